package contentapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/umbrellashare/umbrellashare/internal/reliability/circuitbreaker"
)

// Option configures a Client during construction in New. Options run before
// the credential transport is installed, so any transport they set ends up
// underneath it.
type Option func(*Client) error

// WithHTTPClient replaces the underlying http.Client. Its Transport is kept
// and wrapped; its Timeout is used as-is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		clone := *hc
		c.http = &clone
		return nil
	}
}

// WithLogger sets the logger used for write and breaker events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

// WithCircuitBreaker makes the client fail fast with a transport error while
// the breaker is open.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) error {
		c.breaker = cb
		return nil
	}
}

// WithDebugLogging logs every request and response status at debug level.
// Bodies are never logged since they carry user records.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		if enabled {
			c.http.Transport = &debugTransport{base: c.http.Transport, logger: c.logger}
		}
		return nil
	}
}
