// Package cache stores rendered analysis results keyed by series content and
// analysis settings.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Config holds cache settings.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Timeout  time.Duration `yaml:"timeout"` // per redis call
	Breaker  BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around redis calls.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"` // consecutive failures to open
	OpenTimeout      time.Duration `yaml:"open_timeout"`      // time spent open before probing
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
}

// DefaultConfig returns an in-memory cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Addr:    "localhost:6379",
		TTL:     15 * time.Minute,
		Timeout: 500 * time.Millisecond,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			HalfOpenRequests: 1,
		},
	}
}

// Cache is a byte cache with per-entry expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// New returns a redis-backed cache when enabled, otherwise an in-memory one.
func New(cfg Config) Cache {
	if !cfg.Enabled {
		return NewMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedis(client, cfg)
}

// Key builds a cache key for an analysis of one series.
func Key(kind string, fingerprint uint64, settings string) string {
	return fmt.Sprintf("peakscan:%s:%016x:%s", kind, fingerprint, settings)
}

type memory struct {
	mu sync.Mutex
	m  map[string]entry
}

type entry struct {
	b   []byte
	exp time.Time
}

// NewMemory returns a process-local cache.
func NewMemory() Cache { return &memory{m: make(map[string]entry)} }

func (c *memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(c.m, key)
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

// redisCache degrades to misses while the breaker is open so that a flapping
// redis never fails an analysis.
type redisCache struct {
	r       *redis.Client
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewRedis wraps client with a circuit breaker.
func NewRedis(client *redis.Client, cfg Config) Cache {
	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	settings := gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: cfg.Breaker.HalfOpenRequests,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Cache circuit breaker state changed")
		},
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &redisCache{r: client, breaker: gobreaker.NewCircuitBreaker(settings), timeout: timeout}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err := c.breaker.Execute(func() (interface{}, error) {
		b, err := c.r.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Cache get failed")
		return nil, false
	}
	b, _ := v.([]byte)
	return b, b != nil
}

func (c *redisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.r.Set(ctx, key, val, ttl).Err()
	})
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Cache set failed")
	}
}
