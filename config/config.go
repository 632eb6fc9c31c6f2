// Package config loads the engine configuration from a YAML file and ENTITY_
// prefixed environment variables.
package config

import (
	"io"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-entity-engine/cache"
	"github.com/goliatone/go-entity-engine/entity"
	"github.com/goliatone/go-entity-engine/internal/auditinfra"
	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override: database.dsn is read
// from ENTITY_DATABASE_DSN.
const EnvPrefix = "ENTITY"

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	Database DatabaseConfig            `mapstructure:"database"`
	Cache    cache.Config              `mapstructure:"cache"`
	Audit    AuditConfig               `mapstructure:"audit"`
	Log      LogConfig                 `mapstructure:"log"`
	Entities []entity.RawSpecification `mapstructure:"entities"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuditConfig struct {
	Table string `mapstructure:"table"`
	// CreateSchema creates the change table at startup when missing.
	CreateSchema bool `mapstructure:"create_schema"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads path, when given, over the defaults and applies environment
// overrides. The result is validated; entity definitions are checked later
// by entity.Register.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, loadError("read config file "+path, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, loadError("decode config", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadError(message, path string, err error) error {
	cfgErr := entity.NewConfigurationError(message, map[string]any{"path": path})
	cfgErr.Source = err
	return cfgErr
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Driver: DriverSQLite, DSN: "file::memory:?cache=shared"},
		Cache:    cache.DefaultConfig(),
		Audit:    AuditConfig{Table: auditinfra.DefaultTable, CreateSchema: true},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)

	v.SetDefault("cache.max_items_to_cache", d.Cache.MaxItemsToCache)
	v.SetDefault("cache.backend", string(d.Cache.Backend))
	v.SetDefault("cache.aggregate_keys", d.Cache.AggregateKeys)
	v.SetDefault("cache.local.capacity", d.Cache.Local.Capacity)
	v.SetDefault("cache.local.num_shards", d.Cache.Local.NumShards)
	v.SetDefault("cache.local.ttl", d.Cache.Local.TTL)
	v.SetDefault("cache.local.eviction_percentage", d.Cache.Local.EvictionPercentage)
	v.SetDefault("cache.local.eviction_interval", d.Cache.Local.EvictionInterval)
	v.SetDefault("cache.redis.url", d.Cache.Redis.URL)
	v.SetDefault("cache.redis.key_prefix", d.Cache.Redis.KeyPrefix)
	v.SetDefault("cache.redis.ttl", d.Cache.Redis.TTL)

	v.SetDefault("audit.table", d.Audit.Table)
	v.SetDefault("audit.create_schema", d.Audit.CreateSchema)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func (c Config) Validate() error {
	err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.Database.DSN, validation.Required),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid database configuration")
	}

	err = validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Log.Format, validation.In("text", "json")),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid log configuration")
	}

	return c.Cache.Validate()
}

// Logger builds the slog logger described by the log section.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
