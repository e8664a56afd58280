// Package model contains domain models passed between layers.
package model

import "time"

// Frame is one raw screen image pulled from the queue.
// It is transient and discarded once extraction finishes.
type Frame struct {
	Data       []byte    // encoded image bytes as published by the producer
	Priority   uint8     // broker priority, higher is delivered first
	ReceivedAt time.Time // when the consumer pulled it
}

// Empty reports whether the frame carries no image bytes.
func (f Frame) Empty() bool { return len(f.Data) == 0 }

// FaceRecord is a persisted face artifact. Records are immutable once stored.
type FaceRecord struct {
	ID        string
	Image     []byte // encoded image bytes exactly as uploaded
	CreatedAt time.Time
}

// Empty reports whether the record has no image payload.
func (r FaceRecord) Empty() bool { return len(r.Image) == 0 }

// FaceRef is the listing shape of a face: just its identifier.
type FaceRef struct {
	ID string `json:"id"`
}
