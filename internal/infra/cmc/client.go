// Package cmc is the boundary to the CoinMarketCap market-data API.
// Every call is a single validated attempt; retry policy lives with the caller.
package cmc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crypto_dashboard/internal/domain"
	"crypto_dashboard/internal/infra"
	"crypto_dashboard/internal/infra/cache"

	"golang.org/x/time/rate"
)

// CoinMarketCap API constants
const (
	DefaultBaseURL = "https://pro-api.coinmarketcap.com/v1"

	listingsPath      = "/cryptocurrency/listings/latest"
	globalMetricsPath = "/global-metrics/quotes/latest"
	apiKeyHeader      = "X-CMC_PRO_API_KEY"

	maxBodyBytes       = 8 << 20
	maxDiagnosticBytes = 2048
)

// Endpoint names used in errors and logs.
const (
	EndpointListings      = "listings"
	EndpointGlobalMetrics = "global-metrics"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
	Revalidate        time.Duration // 0 disables response caching
	Cache             cache.Cache
	Metrics           *infra.Metrics
}

// Client is the CoinMarketCap REST client (Boundary Layer)
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      cache.Cache
	revalidate time.Duration
	metrics    *infra.Metrics
	logger     *slog.Logger
}

var _ domain.MarketDataProvider = (*Client)(nil)

// NewClient creates a new CoinMarketCap API client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		limiter:    limiter,
		cache:      cfg.Cache,
		revalidate: cfg.Revalidate,
		metrics:    cfg.Metrics,
		logger:     slog.Default().With("module", "cmc_client"),
	}
}

type listingsEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

type globalMetricsEnvelope struct {
	Data domain.RawGlobalMetrics `json:"data"`
}

// decodeFunc checks a response body and decodes it into the caller's target.
// A non-empty reason rejects the body as malformed.
type decodeFunc func(body []byte) (reason string)

// FetchListings returns the top listings by market cap, descending, quoted in USD.
// An empty data array is returned as-is; emptiness is judged after filtering.
func (c *Client) FetchListings(ctx context.Context, limit int) ([]domain.RawAssetRecord, error) {
	params := url.Values{}
	params.Set("start", "1")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("convert", "USD")
	params.Set("sort", "market_cap")
	params.Set("sort_dir", "desc")
	params.Set("cryptocurrency_type", "all")

	var records []domain.RawAssetRecord
	err := c.get(ctx, EndpointListings, listingsPath, params, func(body []byte) string {
		if reason := validateListings(body); reason != "" {
			return reason
		}
		var env listingsEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return "cannot decode listing records: " + err.Error()
		}
		records = c.decodeRecords(env.Data)
		return ""
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// decodeRecords decodes each listing on its own. A record that does not decode is
// returned empty, so the downstream filter drops it and still counts it.
func (c *Client) decodeRecords(raw []json.RawMessage) []domain.RawAssetRecord {
	records := make([]domain.RawAssetRecord, len(raw))
	skipped := 0
	for i, r := range raw {
		if err := json.Unmarshal(r, &records[i]); err != nil {
			records[i] = domain.RawAssetRecord{}
			skipped++
			c.logger.Debug("Undecodable listing record",
				slog.Int("index", i),
				slog.String("error", err.Error()),
				slog.String("payload", diagnosticDump(r)),
			)
		}
	}
	if skipped > 0 {
		c.logger.Warn("Skipped undecodable listing records", slog.Int("skipped", skipped), slog.Int("total", len(raw)))
	}
	return records
}

// FetchGlobalMetrics returns the latest global market snapshot.
func (c *Client) FetchGlobalMetrics(ctx context.Context) (*domain.RawGlobalMetrics, error) {
	var env globalMetricsEnvelope
	err := c.get(ctx, EndpointGlobalMetrics, globalMetricsPath, nil, func(body []byte) string {
		if reason := validateGlobalMetrics(body); reason != "" {
			return reason
		}
		env = globalMetricsEnvelope{}
		if err := json.Unmarshal(body, &env); err != nil {
			return "cannot decode global metrics: " + err.Error()
		}
		return ""
	})
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// get performs one request and hands the body to decode.
// Only bodies that decode are cached.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, decode decodeFunc) error {
	if c.apiKey == "" {
		return &domain.ConfigurationError{Field: "api.coinmarketcap.api_key", Err: domain.ErrMissingAPIKey}
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	if body, ok := c.cached(ctx, reqURL); ok {
		if reason := decode(body); reason == "" {
			return nil
		}
		c.logger.Warn("Discarding undecodable cached response", slog.String("endpoint", endpoint))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.TransportError{ProviderMessage: "rate limit wait aborted", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{ProviderMessage: "request to provider failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &domain.TransportError{StatusCode: resp.StatusCode, ProviderMessage: "failed to read provider response", Err: err}
	}
	if c.metrics != nil {
		c.metrics.RecordFetch(time.Since(start).Nanoseconds())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := providerErrorMessage(body)
		c.logger.Warn("Provider returned error status",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("provider_message", msg),
		)
		return &domain.TransportError{StatusCode: resp.StatusCode, ProviderMessage: msg}
	}

	if reason := decode(body); reason != "" {
		return c.malformed(endpoint, reason, body)
	}

	c.store(ctx, reqURL, body)
	return nil
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil || c.revalidate <= 0 {
		return nil, false
	}
	body, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Response cache read failed", slog.Any("error", err))
		return nil, false
	}
	if ok && c.metrics != nil {
		c.metrics.RecordCacheHit()
	}
	return body, ok
}

func (c *Client) store(ctx context.Context, key string, body []byte) {
	if c.cache == nil || c.revalidate <= 0 {
		return
	}
	if err := c.cache.Set(ctx, key, body, c.revalidate); err != nil {
		c.logger.Warn("Response cache write failed", slog.Any("error", err))
	}
}

// malformed builds the error and logs the offending payload; the payload never reaches clients.
func (c *Client) malformed(endpoint, reason string, body []byte) error {
	dump := diagnosticDump(body)
	c.logger.Warn("Malformed provider response",
		slog.String("endpoint", endpoint),
		slog.String("reason", reason),
		slog.String("payload", dump),
	)
	return &domain.MalformedResponseError{Endpoint: endpoint, Reason: reason, Payload: dump}
}

func diagnosticDump(body []byte) string {
	if len(body) <= maxDiagnosticBytes {
		return string(body)
	}
	return string(body[:maxDiagnosticBytes]) + fmt.Sprintf("...(%d bytes truncated)", len(body)-maxDiagnosticBytes)
}
