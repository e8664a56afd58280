package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("face not found")
	ErrDuplicateID  = errors.New("face id already exists")
	ErrInvalidLimit = errors.New("invalid list limit")
	ErrClosed       = errors.New("store closed")
)
