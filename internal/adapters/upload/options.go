package upload

import (
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds a single upload request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithJPEGQuality sets the encoding quality, 1..100.
func WithJPEGQuality(q int) Option {
	return func(c *Client) {
		if q >= 1 && q <= 100 {
			c.quality = q
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is left
// untouched; per-request timeouts still apply through the context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}
