package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// IsFatal reports whether err explicitly declares itself non-retriable.
// Untyped errors are not fatal: a failed attempt of unknown cause is retried.
func IsFatal(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return !re.IsRetriable()
	}
	return false
}

// ConfigurationError represents a configuration error (never retriable)
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigurationError) IsRetriable() bool {
	return false
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError is a failed exchange with the market-data provider.
// StatusCode is 0 when no HTTP response was received.
type TransportError struct {
	StatusCode      int
	ProviderMessage string
	Err             error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport error (status %d): %s", e.StatusCode, e.ProviderMessage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) IsRetriable() bool {
	return true
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedResponseError is returned when a provider body does not have the expected envelope.
// Payload carries a truncated copy of the body for logs only.
type MalformedResponseError struct {
	Endpoint string
	Reason   string
	Payload  string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response from " + e.Endpoint + ": " + e.Reason
}

func (e *MalformedResponseError) IsRetriable() bool {
	return true
}

// NoValidDataError means the envelope was well formed but no record survived filtering.
type NoValidDataError struct {
	Total int
}

func (e *NoValidDataError) Error() string {
	return fmt.Sprintf("no valid cryptocurrency data available (0 of %d records usable)", e.Total)
}

func (e *NoValidDataError) IsRetriable() bool {
	return true
}

var (
	// ErrMissingAPIKey is wrapped by the ConfigurationError returned when no credential is configured.
	ErrMissingAPIKey = errors.New("API key not found")

	// ErrNotReady is returned when no fetch cycle has completed yet.
	ErrNotReady = errors.New("data not yet available")

	// ErrInvalidAssetID is returned when an asset identifier is empty or malformed. Not retriable.
	ErrInvalidAssetID = errors.New("invalid asset id")

	// ErrAssetNotFound is returned when an asset is not in the catalog.
	ErrAssetNotFound = errors.New("asset not found")
)
