package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"crypto_dashboard/internal/domain"
)

// Client-facing error messages.
const (
	msgConfiguration = "Server configuration error: API key not found"
	msgMalformed     = "Invalid data format received from API"
	msgNoValidData   = "No valid cryptocurrency data available"
	msgNotReady      = "Market data is not available yet, please retry shortly"
	msgInternal      = "Failed to fetch cryptocurrency data"
)

// Pagination is attached to paged table responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Response is the envelope for every JSON endpoint.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
	*Pagination
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to encode response", slog.Any("error", err))
	}
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Error: message})
}

// errorStatus maps the error taxonomy onto an HTTP status and a user-facing message.
func errorStatus(err error) (int, string) {
	var (
		cfgErr       *domain.ConfigurationError
		transportErr *domain.TransportError
		malformedErr *domain.MalformedResponseError
		noDataErr    *domain.NoValidDataError
	)

	switch {
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, msgConfiguration
	case errors.As(err, &transportErr):
		status := http.StatusBadGateway
		if transportErr.StatusCode >= 400 {
			status = transportErr.StatusCode
		}
		return status, transportErr.ProviderMessage
	case errors.As(err, &malformedErr):
		return http.StatusInternalServerError, msgMalformed
	case errors.As(err, &noDataErr):
		return http.StatusInternalServerError, msgNoValidData
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusServiceUnavailable, msgNotReady
	case errors.Is(err, domain.ErrAssetNotFound):
		return http.StatusNotFound, "Asset not found"
	case errors.Is(err, domain.ErrInvalidAssetID):
		return http.StatusBadRequest, "Invalid asset id"
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// writeError writes the failure envelope. Raw error text is only exposed outside production.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	resp := Response{Success: false, Error: message}
	if !s.production {
		resp.Details = err.Error()
	}

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "Request failed",
		slog.String("path", r.URL.Path),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.Int("status", status),
		slog.Any("error", err),
	)

	writeJSON(w, status, resp)
}
