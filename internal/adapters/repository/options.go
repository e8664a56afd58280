package repository

import "time"

// Option applies a configuration option to the SQL-backed stores.
type Option func(*settings)

type settings struct {
	maxConns    int32
	busyTimeout time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		maxConns:    8,
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithMaxConns bounds the Postgres connection pool.
func WithMaxConns(n int32) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}
