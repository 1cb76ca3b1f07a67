package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string
	Port    int
	DBURL   string

	AltegioWebhookSecret string

	WhatsAppProvider         string // "dummy" | "meta_cloud"
	AllowRealSend            bool
	StopWorkerOnTokenExpired bool

	WhatsAppAccessToken        string
	WhatsAppWebhookVerifyToken string
	WhatsAppGraphURL           string
	WhatsAppAPIVersion         string

	AltegioAPIBaseURL   string
	AltegioAPIAccept    string
	AltegioPartnerToken string
	AltegioUserToken    string

	BusinessTimezone string

	// Empty means every booking is planned.
	PlanAllowedCategoryIDs []int64

	WorkerBatchSize    int
	WorkerPollInterval time.Duration

	RedisAddr      string
	AdminJWTSecret string
	OTLPEndpoint   string

	UnsubscribeLinkBase string
}

func Load() Config {
	// optional .env for local dev; real deployments pass env vars directly
	_ = godotenv.Load()

	return Config{
		AppName: getEnv("APP_NAME", "altegiobot"),
		Env:     getEnv("APP_ENV", "dev"),
		Port:    getEnvInt("PORT", 8080),
		DBURL:   buildDBURL(),

		AltegioWebhookSecret: getEnv("ALTEGIO_WEBHOOK_SECRET", ""),

		WhatsAppProvider:         getEnv("WHATSAPP_PROVIDER", "dummy"),
		AllowRealSend:            getEnvBool("ALLOW_REAL_SEND", false),
		StopWorkerOnTokenExpired: getEnvBool("STOP_WORKER_ON_TOKEN_EXPIRED", true),

		WhatsAppAccessToken:        getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppWebhookVerifyToken: getEnv("WHATSAPP_WEBHOOK_VERIFY_TOKEN", ""),
		WhatsAppGraphURL:           getEnv("WHATSAPP_GRAPH_URL", "https://graph.facebook.com"),
		WhatsAppAPIVersion:         getEnv("WHATSAPP_API_VERSION", "v20.0"),

		AltegioAPIBaseURL:   getEnv("ALTEGIO_API_BASE_URL", "https://api.alteg.io/api/v1"),
		AltegioAPIAccept:    getEnv("ALTEGIO_API_ACCEPT", "application/vnd.api.v2+json"),
		AltegioPartnerToken: getEnv("ALTEGIO_PARTNER_TOKEN", ""),
		AltegioUserToken:    getEnv("ALTEGIO_USER_TOKEN", ""),

		BusinessTimezone: getEnv("BUSINESS_TIMEZONE", "Europe/Berlin"),

		PlanAllowedCategoryIDs: getEnvInt64Slice("PLAN_ALLOWED_CATEGORY_IDS"),

		WorkerBatchSize:    getEnvInt("WORKER_BATCH_SIZE", 50),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_ENDPOINT", ""),

		UnsubscribeLinkBase: getEnv("UNSUBSCRIBE_LINK_BASE", ""),
	}
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "altegiobot")
	pass := getEnv("DB_PASSWORD", "altegiobot")
	name := getEnv("DB_NAME", "altegiobot")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)

		if err != nil {
			return fallback
		}

		return b
	}
	return fallback
}

func getEnvInt64Slice(key string) []int64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	var out []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			fmt.Println(err)
			continue
		}
		out = append(out, n)
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)

		if err != nil {
			return fallback
		}

		return d
	}
	return fallback
}
