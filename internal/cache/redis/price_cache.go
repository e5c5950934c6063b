package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per asset at
// "price:{asset}".
type PriceCache struct {
	c   *Client
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by c.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c, rdb: c.Underlying()}
}

// SetPrice stores the latest accepted sample for its asset.
func (pc *PriceCache) SetPrice(ctx context.Context, s domain.OraclePrice) error {
	fields := map[string]any{
		"price":      strconv.FormatFloat(s.Price, 'f', -1, 64),
		"ts":         strconv.FormatInt(s.Timestamp.UnixNano(), 10),
		"confidence": strconv.FormatFloat(s.Confidence, 'f', -1, 64),
		"source":     s.Source,
		"block":      strconv.FormatInt(s.BlockNumber, 10),
		"round":      strconv.FormatInt(s.RoundID, 10),
	}
	if err := pc.rdb.HSet(ctx, pc.c.key("price", s.Asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", s.Asset, err)
	}
	return nil
}

// GetPrice returns the cached sample, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (domain.OraclePrice, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.c.key("price", asset)).Result()
	if err != nil {
		return domain.OraclePrice{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	if _, ok := vals["price"]; !ok {
		return domain.OraclePrice{}, fmt.Errorf("redis: price %s: %w", asset, domain.ErrNotFound)
	}

	s := domain.OraclePrice{Asset: asset, Source: vals["source"]}
	var perr error
	parseF := func(k string) float64 {
		v, err := strconv.ParseFloat(vals[k], 64)
		if err != nil && perr == nil {
			perr = fmt.Errorf("redis: parse %s for %s: %w", k, asset, err)
		}
		return v
	}
	parseI := func(k string) int64 {
		v, err := strconv.ParseInt(vals[k], 10, 64)
		if err != nil && perr == nil {
			perr = fmt.Errorf("redis: parse %s for %s: %w", k, asset, err)
		}
		return v
	}
	s.Price = parseF("price")
	s.Confidence = parseF("confidence")
	s.Timestamp = time.Unix(0, parseI("ts")).UTC()
	s.BlockNumber = parseI("block")
	s.RoundID = parseI("round")
	if perr != nil {
		return domain.OraclePrice{}, perr
	}
	return s, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
