package cache

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-entity-engine/internal/cacheinfra"
	goerrors "github.com/goliatone/go-errors"
)

// Backend selects the persistent tier implementation.
type Backend string

const (
	// BackendLocal keeps the persistent tier in process, shared by every request.
	BackendLocal Backend = "local"
	// BackendRedis shares the persistent tier across processes.
	BackendRedis Backend = "redis"
	// BackendNone disables the persistent tier; only request scoped memory remains.
	BackendNone Backend = "none"
)

// DefaultMaxItemsToCache bounds how many entries one scope writes back.
const DefaultMaxItemsToCache = 2

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	MaxItemsToCache int         `mapstructure:"max_items_to_cache"`
	Backend         Backend     `mapstructure:"backend"`
	AggregateKeys   []string    `mapstructure:"aggregate_keys"`
	Local           LocalConfig `mapstructure:"local"`
	Redis           RedisConfig `mapstructure:"redis"`
}

// LocalConfig mirrors the sturdyc options of the in-process persistent tier.
type LocalConfig struct {
	Capacity           int           `mapstructure:"capacity"`
	NumShards          int           `mapstructure:"num_shards"`
	TTL                time.Duration `mapstructure:"ttl"`
	EvictionPercentage int           `mapstructure:"eviction_percentage"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval"`
}

type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxItemsToCache: DefaultMaxItemsToCache,
		Backend:         BackendLocal,
		AggregateKeys:   []string{AggregateChanges, AggregateProblems},
		Local:           convertFromInternal(cacheinfra.DefaultConfig()),
		Redis: RedisConfig{
			KeyPrefix: "entity:",
			TTL:       time.Hour,
		},
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MaxItemsToCache, validation.Min(0)),
		validation.Field(&c.Backend, validation.Required, validation.In(BackendLocal, BackendRedis, BackendNone)),
		validation.Field(&c.Redis, validation.When(c.Backend == BackendRedis, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Redis,
				validation.Field(&c.Redis.URL, validation.Required),
				validation.Field(&c.Redis.TTL, validation.Min(time.Duration(0))),
			)
		}))),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid cache configuration")
	}
	if c.Backend == BackendLocal {
		if err := c.Local.toInternal().Validate(); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid local cache configuration")
		}
	}
	return nil
}

// NewStore builds the persistent tier selected by cfg.Backend.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendLocal:
		store, err := cacheinfra.NewSturdycStore(cfg.Local.toInternal())
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendRedis:
		store, err := cacheinfra.NewRedisStore(ctx, cacheinfra.RedisConfig{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendNone:
		return NopStore{}, nil
	}
	return nil, goerrors.New("unknown cache backend "+string(cfg.Backend), goerrors.CategoryValidation)
}

func (c LocalConfig) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) LocalConfig {
	return LocalConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
