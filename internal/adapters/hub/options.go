package hub

import (
	"time"

	"github.com/okian/facewatch/pkg/logger"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithSendTimeout bounds every write to a viewer.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// WithSendBuffer sets how many notifications may wait per viewer before it
// is considered too slow and dropped.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithLogger sets a custom logger for the hub.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}
