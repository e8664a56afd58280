package api

import (
	"github.com/okian/facewatch/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes caps request bodies of /upload_face and /frames.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithFramePublisher enables POST /frames, enqueueing raw frames on p.
func WithFramePublisher(p FramePublisher) Option {
	return func(s *Server) {
		s.frames = p
	}
}

// WithLogger sets the logger for the server.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
