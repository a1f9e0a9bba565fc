// Package routecache keeps webhook route lookups in Redis in front of the database.
package routecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/message-gateway/internal/domain"
)

const keyPrefix = "webhook_route:"

// DefaultTTL bounds how long a route stays resolvable from the cache after it
// is deactivated or its webhook config is edited outside this service.
const DefaultTTL = time.Minute

var lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_route_cache_lookups_total",
	Help: "Webhook route cache lookups by result",
}, []string{"result"})

// Resolver is the authoritative route source behind the cache.
type Resolver interface {
	ResolveWebhookRoute(ctx context.Context, path string) (*domain.WebhookRoute, error)
}

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("invalid REDIS_ADDR: %q", addr)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Cache is a read-through cache of webhook routes keyed by path. Redis errors
// degrade to direct lookups; not-found results are never cached.
type Cache struct {
	client Client
	next   Resolver
	ttl    time.Duration
	logger zerolog.Logger
}

func New(client Client, next Resolver, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client: client,
		next:   next,
		ttl:    ttl,
		logger: logger.With().Str("component", "routecache").Logger(),
	}
}

func (c *Cache) ResolveWebhookRoute(ctx context.Context, path string) (*domain.WebhookRoute, error) {
	key := keyPrefix + path
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var route domain.WebhookRoute
		if jerr := json.Unmarshal(raw, &route); jerr == nil {
			lookupsTotal.WithLabelValues("hit").Inc()
			return &route, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cached route")
	case errors.Is(err, redis.Nil):
	default:
		lookupsTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("route cache read failed")
	}
	lookupsTotal.WithLabelValues("miss").Inc()

	route, err := c.next.ResolveWebhookRoute(ctx, path)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(route); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("route cache write failed")
		}
	}
	return route, nil
}

// Invalidate drops the cached entry for path.
func (c *Cache) Invalidate(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := c.client.Del(ctx, keyPrefix+path).Err(); err != nil {
		return fmt.Errorf("invalidate route cache: %w", err)
	}
	return nil
}
