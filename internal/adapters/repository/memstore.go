package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/facewatch/internal/domain/model"
	"github.com/okian/facewatch/pkg/metrics"
)

type memEntry struct {
	rec model.FaceRecord
	seq uint64
}

// MemStore keeps records in memory. Nothing survives a restart.
type MemStore struct {
	mu     sync.RWMutex
	byID   map[string]*memEntry
	order  []*memEntry // ascending by (CreatedAt, seq)
	seq    uint64
	closed bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]*memEntry)}
}

func (s *MemStore) Insert(_ context.Context, rec model.FaceRecord) (err error) {
	defer observe("insert", time.Now(), &err)

	img := make([]byte, len(rec.Image))
	copy(img, rec.Image)
	rec.Image = img

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.byID[rec.ID]; ok {
		return ErrDuplicateID
	}

	s.seq++
	e := &memEntry{rec: rec, seq: s.seq}
	// records almost always arrive in time order, so this is an append
	i := sort.Search(len(s.order), func(i int) bool {
		return s.order[i].rec.CreatedAt.After(rec.CreatedAt)
	})
	s.order = append(s.order, nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = e
	s.byID[rec.ID] = e

	metrics.UpdateFacesTotal(len(s.order))
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (_ []byte, err error) {
	defer observe("get", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.byID[id]
	if !ok || e.rec.Empty() {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.rec.Image))
	copy(out, e.rec.Image)
	return out, nil
}

func (s *MemStore) ListRecent(_ context.Context, n int) (_ []string, err error) {
	defer observe("list", time.Now(), &err)
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, min(n, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(ids) < n; i-- {
		ids = append(ids, s.order[i].rec.ID)
	}
	return ids, nil
}

func (s *MemStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
