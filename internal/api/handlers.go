package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"crypto_dashboard/internal/domain"
	"crypto_dashboard/internal/engine"
	"crypto_dashboard/internal/service"

	"github.com/gorilla/mux"
)

// globalMetricsUSD is the nested quote block of the global-metrics response.
type globalMetricsUSD struct {
	TotalMarketCap     float64 `json:"total_market_cap"`
	TotalVolume24h     float64 `json:"total_volume_24h"`
	MarketCapChange24h float64 `json:"market_cap_change_24h"`
}

// globalMetricsResponse keeps the provider's nesting, with absent values defaulted.
type globalMetricsResponse struct {
	ActiveCryptocurrencies int     `json:"active_cryptocurrencies"`
	BTCDominance           float64 `json:"btc_dominance"`
	ETHDominance           float64 `json:"eth_dominance"`
	Quote                  struct {
		USD globalMetricsUSD `json:"USD"`
	} `json:"quote"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newGlobalMetricsResponse(gm domain.GlobalMetrics) globalMetricsResponse {
	resp := globalMetricsResponse{
		ActiveCryptocurrencies: gm.ActiveCryptocurrencies,
		BTCDominance:           gm.BTCDominance,
		ETHDominance:           gm.ETHDominance,
		UpdatedAt:              gm.UpdatedAt,
	}
	resp.Quote.USD = globalMetricsUSD{
		TotalMarketCap:     gm.TotalMarketCap,
		TotalVolume24h:     gm.TotalVolume24h,
		MarketCapChange24h: gm.MarketCapChange24h,
	}
	return resp
}

type marketCapPercentage struct {
	BTC float64 `json:"btc"`
	ETH float64 `json:"eth"`
}

// globalOverviewResponse is the flattened overview shape.
type globalOverviewResponse struct {
	TotalMarketCap                  float64             `json:"total_market_cap"`
	TotalVolume24h                  float64             `json:"total_volume_24h"`
	MarketCapChangePercentage24hUSD float64             `json:"market_cap_change_percentage_24h_usd"`
	ActiveCryptocurrencies          int                 `json:"active_cryptocurrencies"`
	MarketCapPercentage             marketCapPercentage `json:"market_cap_percentage"`
	UpdatedAt                       time.Time           `json:"updated_at"`
}

type statusResponse struct {
	Feeds   []engine.Status `json:"feeds"`
	Metrics any             `json:"metrics,omitempty"`
	Clients int             `json:"websocket_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	query, err := parseTableQuery(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.market.Snapshot()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page := service.ApplyTableQuery(snap.Assets, query)
	resp := Response{Success: true, Data: page.Assets}
	if query.Page > 0 {
		resp.Pagination = &Pagination{
			Page:       page.Page,
			PerPage:    page.PerPage,
			Total:      page.Total,
			TotalPages: page.TotalPages,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTopPerformers(w http.ResponseWriter, r *http.Request) {
	snap, err := s.market.Snapshot()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, snap.Performers)
}

func (s *Server) handleGlobalMetrics(w http.ResponseWriter, r *http.Request) {
	gm, err := s.market.Global()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, newGlobalMetricsResponse(gm))
}

func (s *Server) handleGlobalOverview(w http.ResponseWriter, r *http.Request) {
	gm, err := s.market.Global()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, globalOverviewResponse{
		TotalMarketCap:                  gm.TotalMarketCap,
		TotalVolume24h:                  gm.TotalVolume24h,
		MarketCapChangePercentage24hUSD: gm.MarketCapChange24h,
		ActiveCryptocurrencies:          gm.ActiveCryptocurrencies,
		MarketCapPercentage:             marketCapPercentage{BTC: gm.BTCDominance, ETH: gm.ETHDominance},
		UpdatedAt:                       gm.UpdatedAt,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeMessage(w, http.StatusNotImplemented, "Refresh is not available")
		return
	}
	if err := s.refresher.RefreshAll(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Response{Success: true, Data: map[string]string{"status": "refresh scheduled"}})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Feeds: s.market.Status()}
	if s.metrics != nil {
		resp.Metrics = s.metrics.Snapshot()
	}
	if s.broadcaster != nil {
		resp.Clients = s.broadcaster.Clients()
	}
	writeSuccess(w, resp)
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	if s.favorites == nil {
		writeSuccess(w, []domain.CoinInfo{})
		return
	}
	coins, err := s.favorites.ListFavorites()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if coins == nil {
		coins = []domain.CoinInfo{}
	}
	writeSuccess(w, coins)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	if s.favorites == nil {
		writeMessage(w, http.StatusNotImplemented, "Favorites are not available")
		return
	}
	id := mux.Vars(r)["id"]
	if !isAssetID(id) {
		s.writeError(w, r, domain.ErrInvalidAssetID)
		return
	}
	on, err := s.favorites.ToggleFavorite(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, map[string]any{"id": id, "is_favorite": on})
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !isAssetID(id) || s.icons == nil {
		http.NotFound(w, r)
		return
	}

	path, ok := s.icons.LocalIcon(id)
	if !ok {
		var err error
		path, err = s.icons.DownloadIcon(r.Context(), id)
		if err != nil {
			s.logger.Warn("Icon download failed", slog.String("id", id), slog.Any("error", err))
			http.NotFound(w, r)
			return
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

func parseTableQuery(r *http.Request) (service.TableQuery, error) {
	v := r.URL.Query()
	q := service.TableQuery{Search: v.Get("q")}

	field, ok := service.ParseSortField(v.Get("sort"))
	if !ok {
		return q, errors.New("unsupported sort field")
	}
	q.Sort = field

	switch strings.ToLower(v.Get("dir")) {
	case "", "desc":
	case "asc":
		q.Asc = true
	default:
		return q, errors.New("dir must be asc or desc")
	}

	if raw := v.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return q, errors.New("page must be a positive integer")
		}
		q.Page = page
	}
	if raw := v.Get("per_page"); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil || perPage < 1 {
			return q, errors.New("per_page must be a positive integer")
		}
		q.PerPage = perPage
		if q.Page == 0 {
			q.Page = 1
		}
	}
	return q, nil
}

// isAssetID accepts provider identifiers: short, alphanumeric plus '-' and '_'.
func isAssetID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
