package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("COINMARKETCAP_API_KEY", "")
	t.Setenv("CMC_API_KEY", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Poll.IntervalSec != 60 {
		t.Errorf("Expected poll interval 60, got %d", cfg.Poll.IntervalSec)
	}
	if cfg.Poll.MaxRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", cfg.Poll.MaxRetries)
	}
	if cfg.API.CoinMarketCap.ListingLimit != 100 {
		t.Errorf("Expected listing limit 100, got %d", cfg.API.CoinMarketCap.ListingLimit)
	}
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
app:
  environment: production
api:
  coinmarketcap:
    api_key: from-file
    listing_limit: 50
poll:
  interval_sec: 30
`)
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CMC_API_KEY", "")
	t.Setenv("COINMARKETCAP_API_KEY", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.API.CoinMarketCap.APIKey != "from-env" {
		t.Errorf("Expected env key to win, got %q", cfg.API.CoinMarketCap.APIKey)
	}
	if cfg.API.CoinMarketCap.ListingLimit != 50 {
		t.Errorf("Expected listing limit 50, got %d", cfg.API.CoinMarketCap.ListingLimit)
	}
	if cfg.Poll.IntervalSec != 30 {
		t.Errorf("Expected interval 30, got %d", cfg.Poll.IntervalSec)
	}
	// untouched keys keep their defaults
	if cfg.Poll.MaxDelayMS != 10000 {
		t.Errorf("Expected max delay default 10000, got %d", cfg.Poll.MaxDelayMS)
	}
	if !cfg.IsProduction() {
		t.Error("Expected production environment")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"missing api key is accepted", func(c *Config) { c.API.CoinMarketCap.APIKey = "" }, false},
		{"bad base url", func(c *Config) { c.API.CoinMarketCap.BaseURL = "ftp://x" }, true},
		{"zero poll interval", func(c *Config) { c.Poll.IntervalSec = 0 }, true},
		{"max delay below base", func(c *Config) { c.Poll.MaxDelayMS = 500 }, true},
		{"redis without addr", func(c *Config) { c.Cache.Backend = CacheBackendRedis }, true},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, true},
		{"template without id", func(c *Config) { c.API.CoinMarketCap.ImageURLTemplate = "https://x/icon.png" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
