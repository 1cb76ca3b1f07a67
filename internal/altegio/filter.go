package altegio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kitilash/altegiobot/internal/cache"
	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/reconciler"
)

// ServiceLookup is the one call the category filter needs.
type ServiceLookup interface {
	GetService(ctx context.Context, companyID, serviceID int64) (*Service, error)
}

// CategoryFilter builds a planning predicate that only admits bookings
// whose services fall into the allowed categories. Category ids are
// resolved through the API and cached; an empty allow set admits
// everything.
func CategoryFilter(lookup ServiceLookup, allowedCategories []int64, cacheTTL time.Duration) reconciler.PlanFilter {
	if len(allowedCategories) == 0 {
		return nil
	}

	allowed := make(map[int64]struct{}, len(allowedCategories))
	for _, id := range allowedCategories {
		allowed[id] = struct{}{}
	}

	categories := cache.New(cacheTTL)

	return func(ctx context.Context, _ reconciler.EventTx, b *booking.Booking) (bool, error) {
		ids := serviceIDsFromRaw(b.Raw)
		// bookings without services cannot be classified, let them through
		if len(ids) == 0 {
			return true, nil
		}

		for _, serviceID := range ids {
			catID, err := resolveCategory(ctx, lookup, categories, b.CompanyID, serviceID)
			if err != nil {
				return false, err
			}
			if _, ok := allowed[catID]; ok {
				return true, nil
			}
		}
		return false, nil
	}
}

func resolveCategory(ctx context.Context, lookup ServiceLookup, c *cache.Cache, companyID, serviceID int64) (int64, error) {
	key := fmt.Sprintf("%d:%d", companyID, serviceID)
	if v, ok := c.Get(key); ok {
		return v.(int64), nil
	}

	svc, err := lookup.GetService(ctx, companyID, serviceID)
	if err != nil {
		return 0, err
	}
	c.Set(key, svc.CategoryID)
	return svc.CategoryID, nil
}

// serviceIDsFromRaw digs the service ids out of the stored raw record
// payload. Best effort; malformed entries are skipped.
func serviceIDsFromRaw(raw json.RawMessage) []int64 {
	if len(raw) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data struct {
		Services []struct {
			ID json.Number `json:"id"`
		} `json:"services"`
	}
	if err := dec.Decode(&data); err != nil {
		return nil
	}

	var ids []int64
	for _, s := range data.Services {
		if id, err := s.ID.Int64(); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
