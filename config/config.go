// Package config loads swrcache deployment settings from the environment
// (optionally seeded from a .env file) and builds the matching store
// options, retained-tier provider, channel transport and HTTP client.
package config

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/channel"
	"github.com/unkn0wn-root/swrcache/channel/amqpchan"
	"github.com/unkn0wn-root/swrcache/channel/redischan"
	"github.com/unkn0wn-root/swrcache/codec"
	swrlogrus "github.com/unkn0wn-root/swrcache/log/logrus"
	swrslog "github.com/unkn0wn-root/swrcache/log/slog"
	swrzap "github.com/unkn0wn-root/swrcache/log/zap"
	"github.com/unkn0wn-root/swrcache/provider"
	pbigcache "github.com/unkn0wn-root/swrcache/provider/bigcache"
	predis "github.com/unkn0wn-root/swrcache/provider/redis"
	pristretto "github.com/unkn0wn-root/swrcache/provider/ristretto"
	"github.com/unkn0wn-root/swrcache/transport/restyfetch"
)

type Config struct {
	// --- store ---
	Namespace         string        `mapstructure:"SWR_NAMESPACE"`
	FetchTimeout      time.Duration `mapstructure:"SWR_FETCH_TIMEOUT"`
	EvictAfter        time.Duration `mapstructure:"SWR_EVICT_AFTER"`
	SweepInterval     time.Duration `mapstructure:"SWR_SWEEP_INTERVAL"`
	RevisionRetention time.Duration `mapstructure:"SWR_REVISION_RETENTION"`
	RetainTTL         time.Duration `mapstructure:"SWR_RETAIN_TTL"`
	RetainMaxBytes    int           `mapstructure:"SWR_RETAIN_MAX_BYTES"` // 0 => unbounded

	// --- retained tier: none | ristretto | bigcache | redis ---
	Retain             string        `mapstructure:"SWR_RETAIN"`
	RistrettoMaxCost   int64         `mapstructure:"SWR_RISTRETTO_MAX_COST"`
	BigcacheLifeWindow time.Duration `mapstructure:"SWR_BIGCACHE_LIFE_WINDOW"`
	BigcacheShards     int           `mapstructure:"SWR_BIGCACHE_SHARDS"`

	// --- redis (retained tier and/or channel) ---
	RedisAddr     string `mapstructure:"SWR_REDIS_ADDR"`
	RedisPassword string `mapstructure:"SWR_REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"SWR_REDIS_DB"`

	// --- realtime channel: none | amqp | redis ---
	Channel       string        `mapstructure:"SWR_CHANNEL"`
	AMQPURL       string        `mapstructure:"SWR_AMQP_URL"`
	AMQPExchange  string        `mapstructure:"SWR_AMQP_EXCHANGE"`
	ChannelPrefix string        `mapstructure:"SWR_CHANNEL_PREFIX"`
	Events        []string      `mapstructure:"SWR_EVENTS"`
	DialTimeout   time.Duration `mapstructure:"SWR_DIAL_TIMEOUT"`

	// --- HTTP API ---
	APIBaseURL string        `mapstructure:"SWR_API_BASE_URL"`
	APIToken   string        `mapstructure:"SWR_API_TOKEN"`
	APITimeout time.Duration `mapstructure:"SWR_API_TIMEOUT"`

	// --- logging: zap | logrus | slog ---
	Log      string `mapstructure:"SWR_LOG"`
	LogLevel string `mapstructure:"SWR_LOG_LEVEL"`

	InspectAddr string `mapstructure:"SWR_INSPECT_ADDR"`
}

var defaults = map[string]any{
	"SWR_NAMESPACE":            "default",
	"SWR_FETCH_TIMEOUT":        "30s",
	"SWR_EVICT_AFTER":          "0s",
	"SWR_SWEEP_INTERVAL":       "1m",
	"SWR_REVISION_RETENTION":   "24h",
	"SWR_RETAIN_TTL":           "10m",
	"SWR_RETAIN_MAX_BYTES":     1 << 20,
	"SWR_RETAIN":               "none",
	"SWR_BIGCACHE_LIFE_WINDOW": "10m",
	"SWR_CHANNEL":              "none",
	"SWR_AMQP_EXCHANGE":        amqpchan.DefaultExchange,
	"SWR_CHANNEL_PREFIX":       redischan.DefaultPrefix,
	"SWR_DIAL_TIMEOUT":         "10s",
	"SWR_API_TIMEOUT":          "15s",
	"SWR_LOG":                  "zap",
	"SWR_LOG_LEVEL":            "info",
	"SWR_INSPECT_ADDR":         ":8089",
}

// keys lists every variable without a default that must still be bound.
var keys = []string{
	"SWR_RISTRETTO_MAX_COST", "SWR_BIGCACHE_SHARDS",
	"SWR_REDIS_ADDR", "SWR_REDIS_PASSWORD", "SWR_REDIS_DB",
	"SWR_AMQP_URL", "SWR_EVENTS",
	"SWR_API_BASE_URL", "SWR_API_TOKEN",
}

// LoadFromEnv reads SWR_* variables. When envFile exists it is loaded first;
// variables already set in the environment win. envFile "" means ".env".
func LoadFromEnv(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Events = splitEvents(cfg.Events)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitEvents normalizes SWR_EVENTS: "a, b" and ["a","b"] both yield [a b].
func splitEvents(in []string) []string {
	var out []string
	for _, s := range in {
		for _, ev := range strings.Split(s, ",") {
			if ev = strings.TrimSpace(ev); ev != "" {
				out = append(out, ev)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Retain {
	case "none", "ristretto", "bigcache":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("SWR_RETAIN=redis requires SWR_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("SWR_RETAIN: unknown provider %q", c.Retain))
	}
	switch c.Channel {
	case "none":
	case "amqp":
		if c.AMQPURL == "" {
			errs = append(errs, errors.New("SWR_CHANNEL=amqp requires SWR_AMQP_URL"))
		}
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("SWR_CHANNEL=redis requires SWR_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("SWR_CHANNEL: unknown transport %q", c.Channel))
	}
	switch c.Log {
	case "zap", "logrus", "slog":
	default:
		errs = append(errs, fmt.Errorf("SWR_LOG: unknown logger %q", c.Log))
	}
	if c.FetchTimeout < 0 || c.EvictAfter < 0 || c.SweepInterval < 0 || c.RetainTTL < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.RetainMaxBytes < 0 {
		errs = append(errs, errors.New("SWR_RETAIN_MAX_BYTES must not be negative"))
	}
	return errors.Join(errs...)
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}

// String renders the config with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Namespace: %s\n", c.Namespace)
	fmt.Fprintf(&sb, "  FetchTimeout: %s\n", c.FetchTimeout)
	fmt.Fprintf(&sb, "  EvictAfter: %s\n", c.EvictAfter)
	fmt.Fprintf(&sb, "  SweepInterval: %s\n", c.SweepInterval)
	fmt.Fprintf(&sb, "  RetainTTL: %s\n", c.RetainTTL)
	fmt.Fprintf(&sb, "  Retain: %s (max %d bytes)\n", c.Retain, c.RetainMaxBytes)
	fmt.Fprintf(&sb, "  RedisAddr: %s\n", c.RedisAddr)
	fmt.Fprintf(&sb, "  RedisPassword: %s\n", mask(c.RedisPassword))
	fmt.Fprintf(&sb, "  Channel: %s\n", c.Channel)
	fmt.Fprintf(&sb, "  AMQPURL: %s\n", mask(c.AMQPURL))
	fmt.Fprintf(&sb, "  Events: %s\n", strings.Join(c.Events, ","))
	fmt.Fprintf(&sb, "  APIBaseURL: %s\n", c.APIBaseURL)
	fmt.Fprintf(&sb, "  APIToken: %s\n", mask(c.APIToken))
	fmt.Fprintf(&sb, "  Log: %s (%s)\n", c.Log, c.LogLevel)
	return sb.String()
}

// RedisClient returns a client for SWR_REDIS_*; nil when no address is set.
func (c *Config) RedisClient() *goredis.Client {
	if c.RedisAddr == "" {
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
}

// RetainProvider builds the configured retained-tier provider; nil for "none".
// rdb is used for "redis" and may be shared with the channel transport.
func (c *Config) RetainProvider(ctx context.Context, rdb goredis.UniversalClient) (provider.Provider, error) {
	switch c.Retain {
	case "ristretto":
		return pristretto.New(pristretto.Config{MaxCost: c.RistrettoMaxCost, SyncWrites: true})
	case "bigcache":
		return pbigcache.New(ctx, pbigcache.Config{LifeWindow: c.BigcacheLifeWindow, Shards: c.BigcacheShards})
	case "redis":
		if rdb == nil {
			return nil, errors.New("config: redis retained tier needs a client")
		}
		return predis.New(predis.Config{Client: rdb, KeyPrefix: c.Namespace + ":"})
	default:
		return nil, nil
	}
}

// ChannelTransport builds the configured realtime transport; nil for "none".
func (c *Config) ChannelTransport(rdb goredis.UniversalClient) (channel.Transport, error) {
	switch c.Channel {
	case "amqp":
		return amqpchan.New(amqpchan.Config{URL: c.AMQPURL, Exchange: c.AMQPExchange})
	case "redis":
		return redischan.New(redischan.Config{Client: rdb, Prefix: c.ChannelPrefix})
	default:
		return nil, nil
	}
}

// Fetch returns an HTTP client for SWR_API_*.
func (c *Config) Fetch() (*restyfetch.Client, error) {
	return restyfetch.New(restyfetch.Config{
		BaseURL:   c.APIBaseURL,
		Timeout:   c.APITimeout,
		AuthToken: c.APIToken,
	})
}

// Logger builds the configured logger. The returned func flushes it.
func (c *Config) Logger() (swrcache.Logger, func() error, error) {
	switch c.Log {
	case "zap":
		lvl, err := zapcore.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("SWR_LOG_LEVEL: %w", err)
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(lvl)
		l, err := zc.Build()
		if err != nil {
			return nil, nil, err
		}
		return swrzap.New(l), l.Sync, nil
	case "logrus":
		lvl, err := logrus.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("SWR_LOG_LEVEL: %w", err)
		}
		l := logrus.New()
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return swrlogrus.New(l), func() error { return nil }, nil
	default:
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, nil, fmt.Errorf("SWR_LOG_LEVEL: %w", err)
		}
		h := stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: lvl})
		return swrslog.Logger{L: stdslog.New(h)}, func() error { return nil }, nil
	}
}

// BoundedCodec wraps inner so retained frames over SWR_RETAIN_MAX_BYTES are
// neither written nor decoded.
func BoundedCodec[V any](cfg *Config, inner codec.Codec[V]) codec.Codec[V] {
	if cfg.RetainMaxBytes <= 0 {
		return inner
	}
	return codec.Limit[V]{Codec: inner, MaxEncode: cfg.RetainMaxBytes, MaxDecode: cfg.RetainMaxBytes}
}

// StoreOptions maps the store settings onto swrcache.Options. c may be nil
// for a store without codec (no deep-copied snapshots, no retained tier).
func StoreOptions[V any](cfg *Config, c codec.Codec[V], p provider.Provider, log swrcache.Logger, hooks swrcache.Hooks) swrcache.Options[V] {
	return swrcache.Options[V]{
		Codec:             c,
		Provider:          p,
		Namespace:         cfg.Namespace,
		Logger:            log,
		Hooks:             hooks,
		FetchTimeout:      cfg.FetchTimeout,
		EvictAfter:        cfg.EvictAfter,
		SweepInterval:     cfg.SweepInterval,
		RevisionRetention: cfg.RevisionRetention,
		RetainTTL:         cfg.RetainTTL,
	}
}
