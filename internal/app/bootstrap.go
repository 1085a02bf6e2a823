package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crypto_dashboard/internal/api"
	"crypto_dashboard/internal/domain"
	"crypto_dashboard/internal/engine"
	"crypto_dashboard/internal/infra"
	"crypto_dashboard/internal/infra/cache"
	"crypto_dashboard/internal/infra/cmc"
	"crypto_dashboard/internal/infra/storage"
	"crypto_dashboard/internal/service"

	"github.com/robfig/cron/v3"
)

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "configs/config.yaml"

const iconSyncConcurrency = 5

// Bootstrap is the process context. It is created once in main and passed explicitly.
type Bootstrap struct {
	ConfigPath string

	Config      *infra.Config
	Metrics     *infra.Metrics
	Storage     *storage.Storage
	Downloader  *infra.IconDownloader
	Cache       cache.Cache
	Provider    *cmc.Client
	Market      *service.MarketService
	Listings    *engine.Subscription[service.Snapshot]
	Global      *engine.Subscription[domain.GlobalMetrics]
	Broadcaster *api.Broadcaster
	Server      *api.Server

	mu          sync.Mutex
	initialized bool
	scheduler   *cron.Cron
	redis       *cache.RedisCache
	stopPolling context.CancelFunc
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize builds every component. Calling it again is a no-op.
func (b *Bootstrap) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	slog.Info("🚀 Bootstrapping Crypto Dashboard...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	if cfg.API.CoinMarketCap.APIKey == "" {
		slog.Warn("⚠️ CoinMarketCap API key is not configured; data endpoints will report a configuration error")
	}

	b.Metrics = infra.NewMetrics()

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Initialize Icon Downloader
	downloader, err := infra.NewIconDownloader(cfg.Icons.Dir, cfg.Icons.Size, cfg.API.CoinMarketCap.ImageURLTemplate)
	if err != nil {
		return err
	}
	b.Downloader = downloader
	slog.Info("✅ Icon downloader ready")

	// 5. Response cache + provider client
	b.Cache = b.newCache(cfg)
	cmcCfg := cfg.API.CoinMarketCap
	b.Provider = cmc.NewClient(cmc.ClientConfig{
		BaseURL:           cmcCfg.BaseURL,
		APIKey:            cmcCfg.APIKey,
		Timeout:           time.Duration(cmcCfg.RequestTimeoutSec) * time.Second,
		RequestsPerMinute: cmcCfg.RequestsPerMinute,
		Revalidate:        time.Duration(cmcCfg.RevalidateSec) * time.Second,
		Cache:             b.Cache,
		Metrics:           b.Metrics,
	})

	// 6. Market service + subscriptions
	b.Market = service.NewMarketService(b.Provider, service.NewTransformer(cmcCfg.ImageURLTemplate), b.Storage, cmcCfg.ListingLimit)
	b.Broadcaster = api.NewBroadcaster(b.Metrics)
	b.Market.AddListener(b.Broadcaster)

	subCfg := engine.SubscriptionConfig{
		PollInterval:   time.Duration(cfg.Poll.IntervalSec) * time.Second,
		MaxRetries:     cfg.Poll.MaxRetries,
		RequestTimeout: time.Duration(cmcCfg.RequestTimeoutSec) * time.Second,
		Backoff: infra.Backoff(
			time.Duration(cfg.Poll.BaseDelayMS)*time.Millisecond,
			time.Duration(cfg.Poll.MaxDelayMS)*time.Millisecond,
		),
		Metrics: b.Metrics,
	}
	b.Listings = engine.NewSubscription(service.FeedListings, b.Market.FetchSnapshot, b.Market.ApplyListings, subCfg)
	b.Global = engine.NewSubscription(service.FeedGlobal, b.Market.FetchGlobal, b.Market.ApplyGlobal, subCfg)
	b.Market.AttachFeeds(b.Listings, b.Global)

	// 7. HTTP boundary
	b.Server = api.NewServer(api.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		Production:   cfg.IsProduction(),
	}, api.Dependencies{
		Market:      b.Market,
		Refresher:   b,
		Favorites:   b.Storage,
		Icons:       b.Downloader,
		Broadcaster: b.Broadcaster,
		Metrics:     b.Metrics,
	})

	b.initialized = true
	return nil
}

func (b *Bootstrap) newCache(cfg *infra.Config) cache.Cache {
	if cfg.API.CoinMarketCap.RevalidateSec == 0 {
		return nil
	}
	if cfg.Cache.Backend == infra.CacheBackendRedis {
		rc := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, "crypto_dashboard:")
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			slog.Warn("Redis unavailable, falling back to in-memory cache", slog.Any("error", err))
			rc.Close()
			return cache.NewMemoryCache()
		}
		b.redis = rc
		slog.Info("✅ Redis response cache connected", slog.String("addr", cfg.Cache.RedisAddr))
		return rc
	}
	return cache.NewMemoryCache()
}

// Start launches the polling subscriptions and the icon sync job.
// They run on a context detached from ctx's cancellation; Shutdown ends them.
func (b *Bootstrap) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return errors.New("bootstrap is not initialized")
	}
	if b.scheduler != nil {
		return nil
	}

	scheduler := cron.New()
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if _, err := scheduler.AddFunc(b.Config.Icons.SyncSchedule, func() { b.SyncAssets(pollCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid icon sync schedule %q: %w", b.Config.Icons.SyncSchedule, err)
	}
	b.stopPolling = cancel
	b.scheduler = scheduler

	b.Listings.Start(pollCtx)
	b.Global.Start(pollCtx)
	b.scheduler.Start()

	slog.Info("✅ Polling subscriptions started",
		slog.Int("interval_sec", b.Config.Poll.IntervalSec),
		slog.String("icon_sync", b.Config.Icons.SyncSchedule),
	)
	return nil
}

// RefreshAll re-triggers both subscriptions, clearing any given-up state.
func (b *Bootstrap) RefreshAll() error {
	if b.Listings == nil || b.Global == nil {
		return engine.ErrNotRunning
	}
	return errors.Join(b.Listings.Refresh(), b.Global.Refresh())
}

// SyncAssets downloads icons for catalog coins that have none yet.
func (b *Bootstrap) SyncAssets(ctx context.Context) {
	coins, err := b.Storage.CoinsMissingIcons()
	if err != nil {
		slog.Error("Failed to list coins for icon sync", slog.Any("error", err))
		return
	}
	if len(coins) == 0 {
		return
	}
	slog.Info("🔄 Starting icon synchronization...", slog.Int("coins", len(coins)))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, iconSyncConcurrency) // Limit concurrent downloads

	for _, coin := range coins {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			path, err := b.Downloader.DownloadIcon(ctx, id)
			if err != nil {
				slog.Warn("Failed to download icon", slog.String("id", id), slog.Any("error", err))
				return
			}
			if err := b.Storage.SetIconPath(id, path); err != nil {
				slog.Error("Failed to record icon path", slog.String("id", id), slog.Any("error", err))
			}
		}(coin.ID)
	}

	wg.Wait()
	slog.Info("✨ Icon synchronization completed")
}

// Shutdown stops polling, the HTTP server and releases storage.
func (b *Bootstrap) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}

	var errs []error
	// Subscriptions stop before their context is cancelled so an in-flight
	// fetch is discarded as superseded instead of failing into a retry.
	b.Listings.Stop()
	b.Global.Stop()
	if b.stopPolling != nil {
		b.stopPolling()
		b.stopPolling = nil
	}
	if b.scheduler != nil {
		<-b.scheduler.Stop().Done()
		b.scheduler = nil
	}

	if err := b.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := b.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}

	b.initialized = false
	return errors.Join(errs...)
}
