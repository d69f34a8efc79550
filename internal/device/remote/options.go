package remote

import (
	"net/http"
	"time"

	"github.com/okian/mapthewalls/pkg/logger"
)

// Option configures New.
type Option func(*Client)

// WithRetryMax caps retries of transient failures.
func WithRetryMax(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.http.RetryMax = n
		}
	}
}

// WithBackoff bounds the wait between retries.
func WithBackoff(lo, hi time.Duration) Option {
	return func(c *Client) {
		if lo > 0 && hi >= lo {
			c.http.RetryWaitMin = lo
			c.http.RetryWaitMax = hi
		}
	}
}

// WithRequestTimeout bounds a single attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.HTTPClient.Timeout = d
		}
	}
}

// WithHTTPClient swaps the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http.HTTPClient = hc
		}
	}
}

// WithLogger sets the client logger. Retry attempts are logged at debug.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
