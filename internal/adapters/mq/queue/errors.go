package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrClosed        = errors.New("queue closed")
	ErrFull          = errors.New("queue full")
	ErrAcknowledged  = errors.New("delivery already acknowledged")
	ErrConnectBroker = errors.New("broker connection failed")
)
