// Package api is the dashboard's inbound HTTP boundary.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"crypto_dashboard/internal/domain"
	"crypto_dashboard/internal/engine"
	"crypto_dashboard/internal/infra"
	"crypto_dashboard/internal/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MarketReader serves the latest market data.
type MarketReader interface {
	Snapshot() (service.Snapshot, error)
	Global() (domain.GlobalMetrics, error)
	Status() []engine.Status
}

// Refresher re-triggers every subscription.
type Refresher interface {
	RefreshAll() error
}

// FavoriteStore manages catalog favorites.
type FavoriteStore interface {
	ListFavorites() ([]domain.CoinInfo, error)
	ToggleFavorite(id string) (bool, error)
}

// IconSource resolves local icon files.
type IconSource interface {
	LocalIcon(id string) (string, bool)
	DownloadIcon(ctx context.Context, id string) (string, error)
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Production   bool
}

// Dependencies are the collaborators behind the endpoints. Only Market is required.
type Dependencies struct {
	Market      MarketReader
	Refresher   Refresher
	Favorites   FavoriteStore
	Icons       IconSource
	Broadcaster *Broadcaster
	Metrics     *infra.Metrics
}

// Server serves the dashboard JSON API.
type Server struct {
	market      MarketReader
	refresher   Refresher
	favorites   FavoriteStore
	icons       IconSource
	broadcaster *Broadcaster
	metrics     *infra.Metrics
	production  bool

	router *mux.Router
	http   *http.Server
	logger *slog.Logger
}

// NewServer wires routes and middleware.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	s := &Server{
		market:      deps.Market,
		refresher:   deps.Refresher,
		favorites:   deps.Favorites,
		icons:       deps.Icons,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
		production:  cfg.Production,
		router:      mux.NewRouter(),
		logger:      slog.Default().With("module", "api"),
	}
	s.routes()

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(requestIDMiddleware, recoverMiddleware(s.logger), loggingMiddleware(s.logger))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/cryptocurrencies/market-data", s.handleMarketData).Methods(http.MethodGet)
	api.HandleFunc("/cryptocurrencies/top-performers", s.handleTopPerformers).Methods(http.MethodGet)
	api.HandleFunc("/market/global-metrics", s.handleGlobalMetrics).Methods(http.MethodGet)
	api.HandleFunc("/market/global", s.handleGlobalOverview).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/favorites", s.handleListFavorites).Methods(http.MethodGet)
	api.HandleFunc("/favorites/{id}", s.handleToggleFavorite).Methods(http.MethodPost)

	r.HandleFunc("/icons/{id:[A-Za-z0-9_-]+}.png", s.handleIcon).Methods(http.MethodGet)

	if s.broadcaster != nil {
		r.HandleFunc("/ws", s.broadcaster.Handler())
	}
}

func (s *Server) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if s.metrics != nil {
		reg.MustRegister(infra.NewMetricsCollector(s.metrics))
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	return s.http.Shutdown(ctx)
}
