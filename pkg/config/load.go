package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. RIDERSHIP_SERVER_PORT.
const EnvPrefix = "RIDERSHIP"

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Cache    CacheConfig    `yaml:"cache" envconfig:"CACHE"`
	Forecast ForecastConfig `yaml:"forecast" envconfig:"FORECAST"`
	Sample   SampleConfig   `yaml:"sample" envconfig:"SAMPLE"`
	Sources  []SourceConfig `yaml:"sources" ignored:"true" validate:"dive"`

	// DefaultSource is used when a request names no source; it is also
	// the way to configure a single source from the environment.
	DefaultSource string `yaml:"default_source" envconfig:"DEFAULT_SOURCE"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
}

// CacheConfig sizes the in-process caches and the optional persistent tier.
type CacheConfig struct {
	TableSize    int           `yaml:"table_size" envconfig:"TABLE_SIZE" validate:"gt=0"`
	ViewSize     int           `yaml:"view_size" envconfig:"VIEW_SIZE" validate:"gt=0"`
	ViewTTL      time.Duration `yaml:"view_ttl" envconfig:"VIEW_TTL" validate:"gte=0"`
	ForecastSize int           `yaml:"forecast_size" envconfig:"FORECAST_SIZE" validate:"gt=0"`

	// Persist keeps fitted forecasts in BadgerDB at PersistPath
	Persist          bool          `yaml:"persist" envconfig:"PERSIST"`
	PersistPath      string        `yaml:"persist_path" envconfig:"PERSIST_PATH" validate:"required_if=Persist true"`
	PersistTTL       time.Duration `yaml:"persist_ttl" envconfig:"PERSIST_TTL" validate:"gte=0"`
	PersistMaxMemory int64         `yaml:"persist_max_memory_mb" envconfig:"PERSIST_MAX_MEMORY_MB" validate:"gte=0"`
}

// ForecastConfig bounds forecast requests.
type ForecastConfig struct {
	DefaultHorizonDays int     `yaml:"default_horizon_days" envconfig:"DEFAULT_HORIZON_DAYS" validate:"gte=0,ltefield=MaxHorizonDays"`
	MaxHorizonDays     int     `yaml:"max_horizon_days" envconfig:"MAX_HORIZON_DAYS" validate:"gt=0"`
	IntervalWidth      float64 `yaml:"interval_width" envconfig:"INTERVAL_WIDTH" validate:"gt=0,lt=1"`
}

// SampleConfig controls the bounded scatter sample.
type SampleConfig struct {
	Size    int    `yaml:"size" envconfig:"SIZE" validate:"gt=0,ltefield=MaxSize"`
	MaxSize int    `yaml:"max_size" envconfig:"MAX_SIZE" validate:"gt=0"`
	Seed    uint64 `yaml:"seed" envconfig:"SEED"`
}

// SourceConfig names a ridership file.
type SourceConfig struct {
	Name string `yaml:"name" validate:"required"`
	Path string `yaml:"path" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			AllowedOrigins:  []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Cache: CacheConfig{
			TableSize:        DefaultTableCacheSize,
			ViewSize:         DefaultViewCacheSize,
			ViewTTL:          DefaultViewCacheTTL,
			ForecastSize:     DefaultForecastCacheSize,
			PersistPath:      "./data/forecasts",
			PersistMaxMemory: DefaultPersistMaxMemory,
		},
		Forecast: ForecastConfig{
			DefaultHorizonDays: DefaultHorizonDays,
			MaxHorizonDays:     MaxHorizonDays,
			IntervalWidth:      DefaultIntervalWidth,
		},
		Sample: SampleConfig{
			Size:    DefaultSampleSize,
			MaxSize: MaxSampleSize,
			Seed:    DefaultSampleSeed,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// it exists; path may be empty), then RIDERSHIP_* environment variables.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// optional file
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	// Fields carry no `default` tags, so absent variables leave file values alone
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}
	if c.DefaultSource != "" && len(c.Sources) > 0 && !seen[c.DefaultSource] {
		return fmt.Errorf("default_source %q is not a configured source", c.DefaultSource)
	}
	return nil
}

// SourcePaths returns name -> path for every configured source. A
// DefaultSource that is not a named source is treated as a file path.
func (c *Config) SourcePaths() map[string]string {
	paths := make(map[string]string, len(c.Sources)+1)
	for _, s := range c.Sources {
		paths[s.Name] = s.Path
	}
	if c.DefaultSource != "" {
		if _, ok := paths[c.DefaultSource]; !ok {
			paths[c.DefaultSource] = c.DefaultSource
		}
	}
	return paths
}
