package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/finbot-ai/finbot/internal/domain/vendor"
	"github.com/finbot-ai/finbot/internal/port/cache"
	"github.com/finbot-ai/finbot/internal/port/database"
)

// VendorService manages vendor records with a read-through cache in
// front of the store. A nil cache disables caching.
type VendorService struct {
	store database.Store
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

func NewVendorService(store database.Store, c cache.Cache, ttl time.Duration, log *slog.Logger) *VendorService {
	if log == nil {
		log = slog.Default()
	}
	return &VendorService{store: store, cache: c, ttl: ttl, log: log}
}

func (s *VendorService) Register(ctx context.Context, req vendor.RegisterRequest) (*vendor.Vendor, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	v, err := s.store.CreateVendor(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create vendor: %w", err)
	}
	s.log.Info("vendor registered", "vendor_id", v.ID, "trust_level", v.TrustLevel)
	return v, nil
}

func (s *VendorService) Get(ctx context.Context, id string) (*vendor.Vendor, error) {
	key := vendorCacheKey(id)
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var v vendor.Vendor
			if err := json.Unmarshal(raw, &v); err == nil {
				return &v, nil
			}
			_ = s.cache.Delete(ctx, key)
		}
	}

	v, err := s.store.GetVendor(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(v); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
				s.log.Debug("vendor cache set failed", "vendor_id", id, "error", err)
			}
		}
	}
	return v, nil
}

func (s *VendorService) List(ctx context.Context) ([]vendor.Vendor, error) {
	return s.store.ListVendors(ctx)
}

func vendorCacheKey(id string) string { return "vendor:" + id }
