package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"crypto_dashboard/internal/domain"
	"crypto_dashboard/internal/engine"
)

// Feed names, also used as subscription names.
const (
	FeedListings = "listings"
	FeedGlobal   = "global_metrics"
)

// Message kinds published to listeners.
const (
	MessageMarketData    = "market_data"
	MessageGlobalMetrics = "global_metrics"
)

// Snapshot is one successful listings cycle.
type Snapshot struct {
	Assets     []domain.Asset       `json:"assets"`
	Performers domain.TopPerformers `json:"performers"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{UpdatedAt: s.UpdatedAt}
	out.Assets = append([]domain.Asset(nil), s.Assets...)
	out.Performers.TopGainers = append([]domain.Performer(nil), s.Performers.TopGainers...)
	out.Performers.TopLosers = append([]domain.Performer(nil), s.Performers.TopLosers...)
	return out
}

// Listener receives a message after every successful cycle.
type Listener interface {
	Publish(kind string, data any)
}

// Feed is the read side of the polling subscription behind a data set.
type Feed interface {
	State() engine.State
	LastError() error
	Status() engine.Status
}

// MarketService holds the latest market data (Service Layer).
// Data is replaced wholesale on each successful cycle and never mutated in place.
type MarketService struct {
	provider     domain.MarketDataProvider
	transformer  *Transformer
	repo         domain.CoinRepository
	listingLimit int

	mu        sync.RWMutex
	snapshot  *Snapshot
	global    *domain.GlobalMetrics
	feeds     map[string]Feed
	listeners []Listener

	logger *slog.Logger
}

// NewMarketService creates a MarketService. repo may be nil.
func NewMarketService(provider domain.MarketDataProvider, transformer *Transformer, repo domain.CoinRepository, listingLimit int) *MarketService {
	if transformer == nil {
		transformer = NewTransformer("")
	}
	if listingLimit <= 0 {
		listingLimit = 100
	}
	return &MarketService{
		provider:     provider,
		transformer:  transformer,
		repo:         repo,
		listingLimit: listingLimit,
		feeds:        make(map[string]Feed),
		logger:       slog.Default().With("module", "market_service"),
	}
}

// AttachFeeds binds the subscriptions whose state decides what Snapshot and Global serve.
func (s *MarketService) AttachFeeds(listings, global Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[FeedListings] = listings
	s.feeds[FeedGlobal] = global
}

// AddListener registers l for post-cycle messages.
func (s *MarketService) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// FetchSnapshot runs one listings cycle: fetch, filter, map, rank.
func (s *MarketService) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	records, err := s.provider.FetchListings(ctx, s.listingLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch listings: %w", err)
	}

	assets, err := s.transformer.TransformAssets(records)
	if err != nil {
		return Snapshot{}, err
	}
	if dropped := len(records) - len(assets); dropped > 0 {
		s.logger.Debug("Dropped incomplete records", slog.Int("dropped", dropped), slog.Int("total", len(records)))
	}

	return Snapshot{
		Assets:     assets,
		Performers: TopPerformers(assets, TopPerformersLimit),
		UpdatedAt:  s.transformer.now().UTC(),
	}, nil
}

// FetchGlobal runs one global-metrics cycle.
func (s *MarketService) FetchGlobal(ctx context.Context) (domain.GlobalMetrics, error) {
	raw, err := s.provider.FetchGlobalMetrics(ctx)
	if err != nil {
		return domain.GlobalMetrics{}, fmt.Errorf("fetch global metrics: %w", err)
	}
	return s.transformer.TransformGlobalMetrics(raw), nil
}

// ApplyListings consumes a listings subscription update. Only successes carry data.
func (s *MarketService) ApplyListings(u engine.Update[Snapshot]) {
	if u.State != engine.StateSuccess {
		return
	}

	s.mu.Lock()
	snap := u.Value.clone()
	s.snapshot = &snap
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SyncCatalog(u.Value.Assets); err != nil {
			s.logger.Warn("Catalog sync failed", slog.Any("error", err))
		}
	}
	for _, l := range listeners {
		l.Publish(MessageMarketData, u.Value.Assets)
	}
}

// ApplyGlobal consumes a global-metrics subscription update.
func (s *MarketService) ApplyGlobal(u engine.Update[domain.GlobalMetrics]) {
	if u.State != engine.StateSuccess {
		return
	}

	s.mu.Lock()
	gm := u.Value
	s.global = &gm
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.Publish(MessageGlobalMetrics, u.Value)
	}
}

// Snapshot returns a copy of the latest listings snapshot.
// While retries are pending the last good snapshot is served; once the feed has
// given up its terminal error is returned instead.
func (s *MarketService) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.feedErrorLocked(FeedListings, s.snapshot != nil); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot.clone(), nil
}

// Global returns the latest global metrics, with the same rules as Snapshot.
func (s *MarketService) Global() (domain.GlobalMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.feedErrorLocked(FeedGlobal, s.global != nil); err != nil {
		return domain.GlobalMetrics{}, err
	}
	return *s.global, nil
}

func (s *MarketService) feedErrorLocked(feed string, hasData bool) error {
	var (
		state   engine.State
		lastErr error
	)
	if f := s.feeds[feed]; f != nil {
		state = f.State()
		lastErr = f.LastError()
	}

	switch {
	case state == engine.StateGivenUp && lastErr != nil:
		return lastErr
	case hasData:
		return nil
	case lastErr != nil:
		return lastErr
	default:
		return domain.ErrNotReady
	}
}

// Status returns the state of every attached feed, ordered by name.
func (s *MarketService) Status() []engine.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]engine.Status, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
