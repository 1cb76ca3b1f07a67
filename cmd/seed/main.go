package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/kitilash/altegiobot/internal/config"
	"github.com/kitilash/altegiobot/internal/db"
	"github.com/kitilash/altegiobot/internal/observability"
)

func main() {
	companyID := flag.Int64("company", 0, "company id to seed")
	phoneNumberID := flag.String("phone-number-id", "", "provider phone number id for the default sender")
	displayPhone := flag.String("display-phone", "", "human readable sender phone")
	flag.Parse()

	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)

	if *companyID == 0 {
		log.Error("missing -company flag")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	inserted, err := db.SeedTemplates(ctx, pool, *companyID)
	if err != nil {
		log.Error("seed templates failed", "err", err)
		os.Exit(1)
	}
	log.Info("templates seeded", "company_id", *companyID, "inserted", inserted)

	if *phoneNumberID != "" {
		if err := db.SeedDefaultSender(ctx, pool, *companyID, *phoneNumberID, *displayPhone); err != nil {
			log.Error("seed default sender failed", "err", err)
			os.Exit(1)
		}
		log.Info("default sender seeded", "company_id", *companyID)
	}
}
