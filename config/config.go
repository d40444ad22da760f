// Package config loads pgcachectl settings from a YAML file, PGCACHECTL_*
// environment variables and defaults, in decreasing precedence.
package config

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// LocalDevice selects the in-process device instead of a kernel node
const LocalDevice = "local"

// Config is the pgcachectl configuration
type Config struct {
	// Device is the control device path, or "local"
	Device   string         `mapstructure:"device" yaml:"device"`
	PageSize ByteSize       `mapstructure:"page_size" yaml:"page_size"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Bench    BenchConfig    `mapstructure:"bench" yaml:"bench"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// CacheConfig sizes the page cache of the local device
type CacheConfig struct {
	// MaxPages is the frame budget, 0 for unlimited
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type BenchConfig struct {
	Iterations int `mapstructure:"iterations" yaml:"iterations"`
}

type PostgresConfig struct {
	ConnectStr string `mapstructure:"connect_str" yaml:"connect_str"`
	PGData     string `mapstructure:"pgdata" yaml:"pgdata"`
}

// ByteSize accepts plain numbers and K, M, G suffixed sizes
type ByteSize int

var sizeSuffixes = []struct {
	suffix string
	shift  uint
}{
	{"kib", 10}, {"kb", 10}, {"k", 10},
	{"mib", 20}, {"mb", 20}, {"m", 20},
	{"gib", 30}, {"gb", 30}, {"g", 30},
}

// ParseByteSize parses sizes such as "4096", "4k" or "2MiB"
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	shift := uint(0)
	for _, sfx := range sizeSuffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, sfx.suffix))
			shift = sfx.shift
			break
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	return ByteSize(n << shift), nil
}

// Load reads the configuration. An empty path only uses the environment and
// defaults; a missing file is an error when explicitly given.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(byteSizeDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used without file nor environment
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func setupViper(v *viper.Viper, path string) {
	// PGCACHECTL_LOG_LEVEL=debug overrides log.level
	v.SetEnvPrefix("PGCACHECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees environment values of known keys
	v.SetDefault("device", "")
	v.SetDefault("page_size", 0)
	v.SetDefault("cache.max_pages", 0)
	v.SetDefault("log.level", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("bench.iterations", 0)
	v.SetDefault("postgres.connect_str", "")
	v.SetDefault("postgres.pgdata", "")

	if path != "" {
		v.SetConfigFile(path)
	}
}

// ApplyDefaults fills unset fields
func ApplyDefaults(cfg *Config) {
	if cfg.Device == "" {
		cfg.Device = "/dev/pgcachectl"
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = ByteSize(os.Getpagesize())
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Bench.Iterations == 0 {
		cfg.Bench.Iterations = 10
	}
	if cfg.Postgres.PGData == "" {
		cfg.Postgres.PGData = os.Getenv("PGDATA")
	}
}

// Validate checks values that cannot be defaulted
func Validate(cfg *Config) error {
	var errs []error
	if cfg.PageSize <= 0 || bits.OnesCount(uint(cfg.PageSize)) != 1 {
		errs = append(errs, fmt.Errorf("page_size %d is not a power of two", cfg.PageSize))
	}
	if cfg.Cache.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("cache.max_pages %d is negative", cfg.Cache.MaxPages))
	}
	if cfg.Bench.Iterations < 0 {
		errs = append(errs, fmt.Errorf("bench.iterations %d is negative", cfg.Bench.Iterations))
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", cfg.Log.Level))
	}
	return errors.Join(errs...)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return ParseByteSize(v)
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			// YAML numbers may decode as float64
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
