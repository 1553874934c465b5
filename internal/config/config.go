// Package config loads process configuration from a YAML file, NAMEGRAPH_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/namegraph/internal/heal"
	"github.com/roach88/namegraph/internal/tracing"
)

// EnvPrefix prefixes every environment variable, e.g. NAMEGRAPH_HEAL_URL.
const EnvPrefix = "NAMEGRAPH"

// Config holds all process configuration.
type Config struct {
	// DB is the SQLite database path.
	DB string `mapstructure:"db"`

	// Manifest is a CUE deployment manifest. Empty means the embedded
	// mainnet manifest.
	Manifest string `mapstructure:"manifest"`

	Heal  HealConfig  `mapstructure:"heal"`
	Trace TraceConfig `mapstructure:"trace"`
	Cache CacheConfig `mapstructure:"cache"`
}

// HealConfig configures the label healing client. An empty URL disables
// healing.
type HealConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Retries  int           `mapstructure:"retries"`
}

// TraceConfig selects the span exporter.
type TraceConfig struct {
	Exporter   string  `mapstructure:"exporter"` // "none" (default), "stdout" or "otlp"
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// CacheConfig sizes the store's row cache. Zero disables it.
type CacheConfig struct {
	Rows int `mapstructure:"rows"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		DB: "namegraph.db",
		Heal: HealConfig{
			Timeout:  heal.DefaultTimeout,
			CacheTTL: heal.DefaultCacheTTL,
		},
		Trace: TraceConfig{
			Exporter:   tracing.ExporterNone,
			SampleRate: 1,
		},
		Cache: CacheConfig{Rows: 4096},
	}
}

// SetDefaults registers Defaults with v so that environment variables bind
// to every key.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("db", d.DB)
	v.SetDefault("manifest", d.Manifest)
	v.SetDefault("heal.url", d.Heal.URL)
	v.SetDefault("heal.timeout", d.Heal.Timeout)
	v.SetDefault("heal.cache_ttl", d.Heal.CacheTTL)
	v.SetDefault("heal.retries", d.Heal.Retries)
	v.SetDefault("trace.exporter", d.Trace.Exporter)
	v.SetDefault("trace.endpoint", d.Trace.Endpoint)
	v.SetDefault("trace.sample_rate", d.Trace.SampleRate)
	v.SetDefault("cache.rows", d.Cache.Rows)
}

// Load reads configuration into v and decodes it. path may be empty, in
// which case ./namegraph.yaml is used if it exists.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("namegraph")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c Config) Validate() error {
	if c.DB == "" {
		return errors.New("config: db is required")
	}
	switch c.Trace.Exporter {
	case tracing.ExporterNone, tracing.ExporterStdout, tracing.ExporterOTLP:
	default:
		return fmt.Errorf("config: unknown trace exporter %q", c.Trace.Exporter)
	}
	if c.Trace.SampleRate < 0 || c.Trace.SampleRate > 1 {
		return fmt.Errorf("config: trace.sample_rate %v out of range [0,1]", c.Trace.SampleRate)
	}
	if c.Cache.Rows < 0 {
		return fmt.Errorf("config: cache.rows must not be negative")
	}
	return nil
}

// HealClient returns the healing client configuration, and false when
// healing is disabled.
func (c Config) HealClient() (heal.Config, bool) {
	if c.Heal.URL == "" {
		return heal.Config{}, false
	}
	return heal.Config{
		BaseURL:    c.Heal.URL,
		Timeout:    c.Heal.Timeout,
		CacheTTL:   c.Heal.CacheTTL,
		RetryCount: c.Heal.Retries,
	}, true
}

// Tracing returns the tracing provider configuration.
func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Exporter:    c.Trace.Exporter,
		Endpoint:    c.Trace.Endpoint,
		SampleRate:  c.Trace.SampleRate,
		ServiceName: "namegraph",
	}
}
