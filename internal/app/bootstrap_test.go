package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"crypto_dashboard/internal/domain"
	"crypto_dashboard/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeListings = `{"status":{"error_message":null},"data":[
 {"id":1,"name":"Bitcoin","symbol":"BTC","quote":{"USD":{"price":50000,"volume_24h":2e9,"percent_change_24h":5,"market_cap":1e12}}},
 {"id":1027,"name":"Ethereum","symbol":"ETH","quote":{"USD":{"price":3000,"volume_24h":1e9,"percent_change_24h":-2,"market_cap":3.6e11}}}
]}`

const fakeGlobal = `{"status":{"error_message":null},"data":{
 "active_cryptocurrencies":9000,"btc_dominance":52.1,"eth_dominance":17.3,
 "quote":{"USD":{"total_market_cap":2.5e12,"total_volume_24h":9e10,"total_market_cap_yesterday_percentage_change":1.5}}
}}`

func writeConfig(t *testing.T, baseURL, imageTemplate string) string {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`app:
  environment: development
server:
  addr: "127.0.0.1:0"
api:
  coinmarketcap:
    base_url: %q
    image_url_template: %q
    revalidate_sec: 0
poll:
  interval_sec: 60
  max_retries: 1
  base_delay_ms: 10
  max_delay_ms: 20
storage:
  path: %q
icons:
  dir: %q
  sync_schedule: "@every 1h"
logging:
  level: error
  dir: ""
`, baseURL, imageTemplate,
		filepath.Join(dir, "dashboard.db"),
		filepath.Join(dir, "icons"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func clearKeyEnv(t *testing.T) {
	t.Setenv("CMC_API_KEY", "")
	t.Setenv("COINMARKETCAP_API_KEY", "")
	t.Setenv("APP_ENV", "")
}

func TestBootstrap_InitializeIsIdempotent(t *testing.T) {
	clearKeyEnv(t)
	b := NewBootstrap(writeConfig(t, "https://example.invalid/v1", "https://example.invalid/{id}.png"))

	require.NoError(t, b.Initialize())
	server, storage := b.Server, b.Storage
	require.NoError(t, b.Initialize())

	assert.Same(t, server, b.Server)
	assert.Same(t, storage, b.Storage)
	assert.Equal(t, 1, b.Config.Poll.MaxRetries)
	assert.Nil(t, b.Cache, "revalidation disabled")

	require.NoError(t, b.Shutdown(context.Background()))
}

func TestBootstrap_StartRequiresInitialize(t *testing.T) {
	b := NewBootstrap("")
	assert.Equal(t, DefaultConfigPath, b.ConfigPath)
	assert.Error(t, b.Start(context.Background()))
	assert.ErrorIs(t, b.RefreshAll(), engine.ErrNotRunning)
}

func TestBootstrap_MissingKeyGivesUp(t *testing.T) {
	clearKeyEnv(t)
	b := NewBootstrap(writeConfig(t, "https://example.invalid/v1", "https://example.invalid/{id}.png"))
	require.NoError(t, b.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))

	assert.Eventually(t, func() bool {
		return b.Listings.State() == engine.StateGivenUp && b.Global.State() == engine.StateGivenUp
	}, 2*time.Second, 10*time.Millisecond)

	var cfgErr *domain.ConfigurationError
	require.Eventually(t, func() bool {
		_, err := b.Market.Snapshot()
		return errors.As(err, &cfgErr)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "api.coinmarketcap.api_key", cfgErr.Field)

	require.NoError(t, b.Shutdown(context.Background()))
}

func TestBootstrap_EndToEnd(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("CMC_API_KEY", "test-key")

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/cryptocurrency/listings/latest"):
			w.Write([]byte(fakeListings))
		case strings.HasSuffix(r.URL.Path, "/global-metrics/quotes/latest"):
			w.Write([]byte(fakeGlobal))
		default:
			w.Header().Set("Content-Type", "image/png")
			png.Encode(w, image.NewRGBA(image.Rect(0, 0, 8, 8)))
		}
	}))
	defer provider.Close()

	b := NewBootstrap(writeConfig(t, provider.URL+"/v1", provider.URL+"/img/{id}.png"))
	require.NoError(t, b.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))

	assert.Eventually(t, func() bool {
		_, err1 := b.Market.Snapshot()
		_, err2 := b.Market.Global()
		return err1 == nil && err2 == nil
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := b.Market.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Assets, 2)
	assert.Equal(t, "1", snap.Assets[0].ID)

	gm, err := b.Market.Global()
	require.NoError(t, err)
	assert.Equal(t, 9000, gm.ActiveCryptocurrencies)

	assert.Eventually(t, func() bool {
		coins, err := b.Storage.GetAllCoins()
		return err == nil && len(coins) == 2
	}, 2*time.Second, 10*time.Millisecond)

	b.SyncAssets(ctx)
	missing, err := b.Storage.CoinsMissingIcons()
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, b.RefreshAll())
	require.NoError(t, b.Shutdown(context.Background()))
}

func TestBootstrap_CallerCancelDoesNotFailInFlightFetch(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("CMC_API_KEY", "test-key")

	var requests atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-r.Context().Done()
	}))
	defer provider.Close()

	b := NewBootstrap(writeConfig(t, provider.URL+"/v1", provider.URL+"/img/{id}.png"))
	require.NoError(t, b.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(ctx))

	require.Eventually(t, func() bool {
		return requests.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Interrupt: the caller's context ends before shutdown begins.
	cancel()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, engine.StateFetching, b.Listings.State())
	assert.Equal(t, engine.StateFetching, b.Global.State())

	require.NoError(t, b.Shutdown(context.Background()))

	m := b.Metrics.Snapshot()
	assert.Zero(t, m.FetchErrors)
	assert.Zero(t, m.RetriesScheduled)
	assert.Equal(t, uint64(2), m.StaleResults)
}
