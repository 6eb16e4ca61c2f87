// Package config loads the server configuration from a YAML or TOML file and
// TENDRIL_* environment variables, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override. Nested keys are joined with
// underscores: http.rate_limit.rps is TENDRIL_HTTP_RATE_LIMIT_RPS.
const EnvPrefix = "TENDRIL_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Addr          string             `mapstructure:"addr"`
	Log           LogConfig          `mapstructure:"log"`
	HTTP          HTTPConfig         `mapstructure:"http"`
	Dispatch      DispatchConfig     `mapstructure:"dispatch"`
	Subscriptions SubscriptionConfig `mapstructure:"subscriptions"`
	WS            WSConfig           `mapstructure:"ws"`
	Manifest      ManifestConfig     `mapstructure:"manifest"`
	Auth          AuthConfig         `mapstructure:"auth"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64           `mapstructure:"max_body_bytes"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type DispatchConfig struct {
	MaxInFlight      int `mapstructure:"max_in_flight"`
	BatchLimit       int `mapstructure:"batch_limit"`
	BatchConcurrency int `mapstructure:"batch_concurrency"`
}

type SubscriptionConfig struct {
	Capacity     int `mapstructure:"capacity"`
	MaxPerClient int `mapstructure:"max_per_client"`
	MaxGlobal    int `mapstructure:"max_global"`
}

type WSConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	ReadLimit int64         `mapstructure:"read_limit"`
	PongWait  time.Duration `mapstructure:"pong_wait"`
}

// ManifestConfig selects where generated bindings are persisted.
type ManifestConfig struct {
	Store         string        `mapstructure:"store"`
	Dir           string        `mapstructure:"dir"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	Root          string        `mapstructure:"root"`
	ClientPackage string        `mapstructure:"client_package"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// Manifest store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Addr: ":8080",
		Log:  LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       RateLimitConfig{RPS: 30, Burst: 60},
		},
		Dispatch:      DispatchConfig{BatchLimit: 100, BatchConcurrency: 8},
		Subscriptions: SubscriptionConfig{Capacity: 10},
		WS:            WSConfig{Workers: 10, QueueSize: 1000, ReadLimit: 1 << 20, PongWait: 60 * time.Second},
		Manifest:      ManifestConfig{Store: StoreMemory, Prefix: "tendril:manifest:", Root: "Server", ClientPackage: "@tendril/client"},
	}
}

// Load reads path (optional), overlays the environment and validates.
func Load(path string) (*Config, error) {
	raw := map[string]any{}
	if path != "" {
		var err error
		if raw, err = readFile(path); err != nil {
			return nil, err
		}
	}
	overlayEnv(raw, os.LookupEnv)

	cfg := Default()
	if err := decode(raw, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	raw := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("config %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

func decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// overlayEnv copies every set TENDRIL_* variable that names a leaf of Config
// into raw. Values stay strings; weak decoding converts them.
func overlayEnv(raw map[string]any, lookup func(string) (string, bool)) {
	for _, path := range leaves(reflect.TypeFor[Config](), nil) {
		name := EnvPrefix + strings.ToUpper(strings.Join(path, "_"))
		value, ok := lookup(name)
		if !ok {
			continue
		}
		setPath(raw, path, value)
	}
}

func leaves(t reflect.Type, prefix []string) [][]string {
	var out [][]string
	for i := range t.NumField() {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		path := append(append([]string(nil), prefix...), key)
		if f.Type.Kind() == reflect.Struct {
			out = append(out, leaves(f.Type, path)...)
			continue
		}
		out = append(out, path)
	}
	return out
}

func setPath(raw map[string]any, path []string, value string) {
	m := raw
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(strings.TrimSpace(c.Addr) != "", "addr is empty")
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q is not text or json", c.Log.Format)
	check(c.HTTP.ReadTimeout >= 0 && c.HTTP.WriteTimeout >= 0 && c.HTTP.IdleTimeout >= 0, "http timeouts must not be negative")
	check(c.HTTP.MaxBodyBytes > 0, "http.max_body_bytes must be positive")
	check(c.HTTP.RateLimit.RPS >= 0 && c.HTTP.RateLimit.Burst >= 0, "http.rate_limit must not be negative")
	check(c.Dispatch.MaxInFlight >= 0, "dispatch.max_in_flight must not be negative")
	check(c.Dispatch.BatchLimit > 0, "dispatch.batch_limit must be positive")
	check(c.Dispatch.BatchConcurrency > 0, "dispatch.batch_concurrency must be positive")
	check(c.Subscriptions.Capacity > 0, "subscriptions.capacity must be positive")
	check(c.Subscriptions.MaxPerClient >= 0 && c.Subscriptions.MaxGlobal >= 0, "subscription limits must not be negative")
	check(c.WS.Workers >= 0 && c.WS.QueueSize >= 0, "ws pool sizes must not be negative")

	switch c.Manifest.Store {
	case StoreMemory:
	case StoreFile:
		check(c.Manifest.Dir != "", "manifest.dir is required for the file store")
	case StoreRedis:
		check(c.Manifest.RedisAddr != "", "manifest.redis_addr is required for the redis store")
	default:
		errs = append(errs, fmt.Errorf("manifest.store %q is not memory, file or redis", c.Manifest.Store))
	}
	check(c.Manifest.TTL >= 0, "manifest.ttl must not be negative")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
