package consumer

import (
	"github.com/okian/facewatch/pkg/logger"
)

// Option applies a configuration option to the Consumer.
type Option func(*Consumer)

// WithName sets the consumer name for identification and logging.
func WithName(name string) Option {
	return func(c *Consumer) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets a custom logger for the consumer.
func WithLogger(logger logger.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUploadConcurrency bounds parallel uploads of crops from one frame.
// Frames themselves are still handled one at a time. Values below 2 keep
// uploads sequential.
func WithUploadConcurrency(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.uploadConcurrency = n
		}
	}
}
