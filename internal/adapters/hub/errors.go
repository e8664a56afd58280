package hub

import "errors"

// Sentinel kinds for hub errors.
var (
	ErrViewerClosed = errors.New("viewer closed")
	ErrHubClosed    = errors.New("hub closed")
)
