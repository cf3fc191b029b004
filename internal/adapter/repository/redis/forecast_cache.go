package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/cashflow/internal/domain"
)

// DefaultForecastTTL bounds how long a projection is served from cache.
const DefaultForecastTTL = 15 * time.Minute

// ForecastCache implements usecase.ForecastCache using Redis.
//
// Entries are keyed under a per-owner generation number. Invalidate bumps
// the generation, which orphans every entry of the owner at once; the
// orphans expire with their TTL.
type ForecastCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewForecastCache creates a new ForecastCache. A non-positive ttl uses
// DefaultForecastTTL.
func NewForecastCache(client redis.UniversalClient, ttl time.Duration) *ForecastCache {
	if ttl <= 0 {
		ttl = DefaultForecastTTL
	}
	return &ForecastCache{
		client: client,
		prefix: "forecast:",
		ttl:    ttl,
	}
}

func (c *ForecastCache) generationKey(ownerID string) string {
	return c.prefix + "gen:" + ownerID
}

func (c *ForecastCache) entryKey(ownerID string, generation int64, horizonDays int, asOf time.Time) string {
	return fmt.Sprintf("%s%s:%d:%d:%s", c.prefix, ownerID, generation, horizonDays, domain.FormatDate(asOf))
}

func (c *ForecastCache) generation(ctx context.Context, ownerID string) (int64, error) {
	v, err := c.client.Get(ctx, c.generationKey(ownerID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// Get returns the cached projection, if any.
func (c *ForecastCache) Get(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) ([]domain.ForecastPoint, bool, error) {
	gen, err := c.generation(ctx, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache generation: %w", err)
	}

	data, err := c.client.Get(ctx, c.entryKey(ownerID, gen, horizonDays, asOf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached forecast: %w", err)
	}

	var points []domain.ForecastPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached forecast: %w", err)
	}
	return points, true, nil
}

// Set stores a projection under the owner's current generation.
func (c *ForecastCache) Set(ctx context.Context, ownerID string, horizonDays int, asOf time.Time, points []domain.ForecastPoint) error {
	data, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("failed to encode forecast: %w", err)
	}

	gen, err := c.generation(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to read cache generation: %w", err)
	}

	return c.client.Set(ctx, c.entryKey(ownerID, gen, horizonDays, asOf), data, c.ttl).Err()
}

// Invalidate drops every cached projection of ownerID.
func (c *ForecastCache) Invalidate(ctx context.Context, ownerID string) error {
	return c.client.Incr(ctx, c.generationKey(ownerID)).Err()
}
