// Package queue defines where frames come from and how they are acknowledged.
//
// Two implementations exist: InMemoryQueue, a bounded priority queue used in
// single-process mode and tests, and AMQP, backed by a RabbitMQ priority
// queue.
package queue

import (
	"context"

	"github.com/okian/facewatch/internal/domain/model"
)

// Frame is the payload type flowing through the queue.
type Frame = model.Frame

// Delivery is one pulled frame awaiting acknowledgement.
type Delivery interface {
	Frame() Frame
	// Ack marks the frame as handled. It is never redelivered.
	Ack() error
	// Nack rejects the frame; with requeue it becomes available again.
	Nack(requeue bool) error
}

// Source yields frames in priority order.
type Source interface {
	// Pull blocks until a frame is available, ctx is done, or the source is
	// closed (ErrClosed).
	Pull(ctx context.Context) (Delivery, error)
	Close() error
}

// Publisher pushes raw frames into the queue.
type Publisher interface {
	Publish(ctx context.Context, data []byte, priority uint8) error
	Close() error
}
