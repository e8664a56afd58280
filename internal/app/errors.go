package service

import "errors"

// Sentinel error kinds returned by Service. Handlers map them to status codes
// with errors.Is.
var (
	ErrStorage    = errors.New("face storage failed")
	ErrNotFound   = errors.New("face not found")
	ErrEmptyImage = errors.New("empty face image")
	ErrNotStarted = errors.New("service not started")
)
