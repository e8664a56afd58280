// Package repository persists face records.
//
// Three Store implementations share one contract: PGStore (durable,
// canonical), SQLiteStore (durable, embedded) and MemStore (no persistence
// across restarts).
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/facewatch/internal/domain/model"
	"github.com/okian/facewatch/pkg/metrics"
)

// Store provides read/write access to face records. Implementations are safe
// for concurrent use and a record is either fully visible or not at all.
type Store interface {
	// Insert persists rec. Returns ErrDuplicateID if rec.ID already exists.
	Insert(ctx context.Context, rec model.FaceRecord) error

	// Get returns the image bytes for id.
	// Returns ErrNotFound if the id is unknown or its image is empty.
	Get(ctx context.Context, id string) ([]byte, error)

	// ListRecent returns up to n ids ordered by creation time desc, ties
	// broken by insertion order desc. Returns ErrInvalidLimit for n < 1.
	ListRecent(ctx context.Context, n int) ([]string, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// observe records latency and failures for one store operation.
func observe(op string, start time.Time, errp *error) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Milliseconds()))
	if err := *errp; err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordStoreError(op)
	}
}
