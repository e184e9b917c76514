package pricecache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"cryptoGainLoss/internal/ports"
)

// Config holds configuration for the caching oracle.
type Config struct {
	Upstream ports.PriceOracle
	Store    ports.PriceStore // optional persistent tier
	Logger   ports.Logger
	Bucket   time.Duration // lookups inside the same bucket share one price
	TTL      time.Duration // memory tier expiry; zero keeps entries for the whole run
}

// Stats counts where prices were served from.
type Stats struct {
	MemoryHits int64
	StoreHits  int64
	Upstream   int64
}

// Oracle is a ports.PriceOracle decorator that caches prices per (currency, time bucket) in
// memory and, when configured, in a PriceStore. Upstream is always asked for the bucket start
// so every lookup in a bucket resolves to the same price. Failures are never cached.
type Oracle struct {
	upstream ports.PriceOracle
	store    ports.PriceStore
	logger   ports.Logger
	bucket   time.Duration
	mem      *cache.Cache
	group    singleflight.Group

	memoryHits atomic.Int64
	storeHits  atomic.Int64
	upstreamN  atomic.Int64
}

// New creates a caching oracle.
func New(cfg Config) (*Oracle, error) {
	if cfg.Upstream == nil {
		return nil, fmt.Errorf("upstream oracle is required for price cache")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for price cache")
	}
	bucket := cfg.Bucket
	if bucket <= 0 {
		bucket = time.Minute
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Oracle{
		upstream: cfg.Upstream,
		store:    cfg.Store,
		logger:   cfg.Logger,
		bucket:   bucket,
		mem:      cache.New(ttl, 10*time.Minute),
	}, nil
}

// BucketOf returns the start of the bucket containing at.
func (o *Oracle) BucketOf(at time.Time) time.Time {
	return at.UTC().Truncate(o.bucket)
}

func cacheKey(currency string, bucket time.Time) string {
	return fmt.Sprintf("%s|%d", currency, bucket.Unix())
}

// USDPrice implements ports.PriceOracle.
func (o *Oracle) USDPrice(ctx context.Context, currency string, at time.Time) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	bucket := o.BucketOf(at)
	key := cacheKey(currency, bucket)

	if v, ok := o.mem.Get(key); ok {
		o.memoryHits.Add(1)
		return v.(decimal.Decimal), nil
	}

	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		return o.resolve(ctx, key, currency, bucket)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (o *Oracle) resolve(ctx context.Context, key, currency string, bucket time.Time) (decimal.Decimal, error) {
	fields := map[string]interface{}{"currency": currency, "bucket": bucket.Format(time.RFC3339)}

	if o.store != nil {
		price, ok, err := o.store.GetPrice(ctx, currency, bucket)
		switch {
		case err != nil:
			o.logger.Warn(ctx, "Price store lookup failed, falling back to upstream", mergeFields(fields, "error", err.Error()))
		case ok:
			o.storeHits.Add(1)
			o.mem.Set(key, price, cache.DefaultExpiration)
			return price, nil
		}
	}

	o.upstreamN.Add(1)
	price, err := o.upstream.USDPrice(ctx, currency, bucket)
	if err != nil {
		return decimal.Zero, err
	}
	o.mem.Set(key, price, cache.DefaultExpiration)

	if o.store != nil {
		if err := o.store.SavePrice(ctx, currency, bucket, price); err != nil {
			o.logger.Warn(ctx, "Failed to persist price", mergeFields(fields, "error", err.Error()))
		}
	}
	o.logger.Debug(ctx, "Price fetched from upstream", mergeFields(fields, "price", price))
	return price, nil
}

// Stats returns the lookup counters collected so far.
func (o *Oracle) Stats() Stats {
	return Stats{
		MemoryHits: o.memoryHits.Load(),
		StoreHits:  o.storeHits.Load(),
		Upstream:   o.upstreamN.Load(),
	}
}

func mergeFields(fields map[string]interface{}, k string, v interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for fk, fv := range fields {
		out[fk] = fv
	}
	out[k] = v
	return out
}
