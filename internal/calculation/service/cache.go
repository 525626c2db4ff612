package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paksafinancial/taxengine/internal/calculation/domain"
	"github.com/paksafinancial/taxengine/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheTTL = 5 * time.Minute

// Cache is a short-lived Redis cache of calculation results, keyed by a hash
// of the request. It is never authoritative; entries expire by TTL only.
type Cache struct {
	client *redis.Client
	log    *zap.Logger
}

// NewCache returns nil when no Redis address is configured; the calculator
// treats a nil cache as disabled.
func NewCache(cfg config.Config, log *zap.Logger) *Cache {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return &Cache{
		client: client,
		log:    log.Named("calculation.cache"),
	}
}

func (c *Cache) Get(ctx context.Context, req domain.CalculateRequest, forDate time.Time) (*domain.Calculation, bool) {
	payload, err := c.client.Get(ctx, cacheKey(req, forDate)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var result domain.Calculation
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (c *Cache) Set(ctx context.Context, req domain.CalculateRequest, forDate time.Time, result *domain.Calculation) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(req, forDate), payload, cacheTTL).Err(); err != nil {
		c.log.Debug("cache write failed", zap.Error(err))
	}
}

func cacheKey(req domain.CalculateRequest, forDate time.Time) string {
	addr := req.Address.Normalized()
	raw := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		req.Amount.String(), req.TaxType, req.TransactionType,
		addr.CountryCode, addr.StateCode, addr.CountyName, addr.CityName,
		forDate.UTC().Format(time.RFC3339), req.CustomerID, req.ExemptionCertificate,
	)
	sum := sha256.Sum256([]byte(raw))
	return "taxengine:calc:" + hex.EncodeToString(sum[:])
}
