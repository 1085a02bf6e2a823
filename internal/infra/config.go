package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent on outbound requests that do not need a provider-specific agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	EnvProduction  = "production"
	EnvDevelopment = "development"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds all application settings.
// After LoadConfig parses the YAML file, sensitive values are overridden from the environment.
type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Environment string `yaml:"environment"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec int    `yaml:"write_timeout_sec"`
		PprofAddr       string `yaml:"pprof_addr"`
	} `yaml:"server"`

	API struct {
		CoinMarketCap struct {
			BaseURL           string `yaml:"base_url"`
			APIKey            string `yaml:"api_key"`
			ListingLimit      int    `yaml:"listing_limit"`
			RequestTimeoutSec int    `yaml:"request_timeout_sec"`
			RequestsPerMinute int    `yaml:"requests_per_minute"`
			RevalidateSec     int    `yaml:"revalidate_sec"`
			ImageURLTemplate  string `yaml:"image_url_template"`
		} `yaml:"coinmarketcap"`
	} `yaml:"api"`

	Poll struct {
		IntervalSec int `yaml:"interval_sec"`
		MaxRetries  int `yaml:"max_retries"`
		BaseDelayMS int `yaml:"base_delay_ms"`
		MaxDelayMS  int `yaml:"max_delay_ms"`
	} `yaml:"poll"`

	Cache struct {
		Backend       string `yaml:"backend"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
	} `yaml:"cache"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Icons struct {
		Dir          string `yaml:"dir"`
		Size         int    `yaml:"size"`
		SyncSchedule string `yaml:"sync_schedule"`
	} `yaml:"icons"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when no config file is present.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "crypto-dashboard"
	cfg.App.Version = "0.1.0"
	cfg.App.Environment = EnvDevelopment

	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeoutSec = 15
	cfg.Server.WriteTimeoutSec = 15
	cfg.Server.PprofAddr = "localhost:6060"

	cmc := &cfg.API.CoinMarketCap
	cmc.BaseURL = "https://pro-api.coinmarketcap.com/v1"
	cmc.ListingLimit = 100
	cmc.RequestTimeoutSec = 10
	cmc.RequestsPerMinute = 30
	cmc.RevalidateSec = 300
	cmc.ImageURLTemplate = "https://s2.coinmarketcap.com/static/img/coins/64x64/{id}.png"

	cfg.Poll.IntervalSec = 60
	cfg.Poll.MaxRetries = 3
	cfg.Poll.BaseDelayMS = 1000
	cfg.Poll.MaxDelayMS = 10000

	cfg.Cache.Backend = CacheBackendMemory

	cfg.Icons.Size = 64
	cfg.Icons.SyncSchedule = "@every 1h"

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads and parses the config file over the defaults.
// A missing file is not an error; the defaults and environment are used instead.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return nil, err
	}

	// .env is optional; real environment variables take precedence over it
	_ = godotenv.Load()
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity.
// A missing API key is deliberately accepted here; it is reported per request.
func (c *Config) Validate() error {
	cmc := c.API.CoinMarketCap
	if !hasPrefix(cmc.BaseURL, "http://") && !hasPrefix(cmc.BaseURL, "https://") {
		return fmt.Errorf("invalid CoinMarketCap base URL: %s", cmc.BaseURL)
	}
	if cmc.ListingLimit <= 0 || cmc.ListingLimit > 5000 {
		return fmt.Errorf("listing limit must be between 1 and 5000")
	}
	if cmc.RequestTimeoutSec <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if cmc.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests per minute must be positive")
	}
	if cmc.RevalidateSec < 0 {
		return fmt.Errorf("revalidate interval must not be negative")
	}
	if !strings.Contains(cmc.ImageURLTemplate, "{id}") {
		return fmt.Errorf("image URL template must contain {id}")
	}

	if c.Poll.IntervalSec <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Poll.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.Poll.BaseDelayMS <= 0 || c.Poll.MaxDelayMS < c.Poll.BaseDelayMS {
		return fmt.Errorf("invalid backoff delays: base=%dms max=%dms", c.Poll.BaseDelayMS, c.Poll.MaxDelayMS)
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis cache backend requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}

	if c.Icons.Size <= 0 {
		return fmt.Errorf("icon size must be positive")
	}

	return nil
}

// IsProduction reports whether error details must be hidden from clients.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, EnvProduction)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overwrites values with environment variables when present.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("CMC_API_KEY"); key != "" {
		cfg.API.CoinMarketCap.APIKey = key
	}
	if key := os.Getenv("COINMARKETCAP_API_KEY"); key != "" {
		cfg.API.CoinMarketCap.APIKey = key
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.App.Environment = env
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		cfg.Cache.RedisPassword = pass
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
