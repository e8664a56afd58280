// Package service implements the ingestion service behind the HTTP API:
// faces are stored first and only then announced to live viewers.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/facewatch/internal/adapters/hub"
	"github.com/okian/facewatch/internal/adapters/repository"
	"github.com/okian/facewatch/internal/domain/model"
	"github.com/okian/facewatch/pkg/logger"
	"github.com/okian/facewatch/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultRecentLimit = 5
)

// Broadcaster fans out new face ids to viewers.
type Broadcaster interface {
	Register(ctx context.Context, conn hub.Conn) (*hub.Viewer, error)
	Serve(ctx context.Context, v *hub.Viewer)
	Notify(ctx context.Context, id string) int
	Count() int
	Close(ctx context.Context)
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Started     bool `json:"started"`
	Faces       int  `json:"faces"`
	Viewers     int  `json:"viewers"`
	RecentLimit int  `json:"recent_limit"`
}

// Service stores uploaded faces and notifies viewers.
type Service struct {
	mu sync.RWMutex

	store repository.Store
	hub   Broadcaster

	recentLimit   int
	statsInterval time.Duration
	newID         func() string
	now           func() time.Time

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service over store and hub.
func New(store repository.Store, b Broadcaster, opts ...Option) *Service {
	s := &Service{
		store:         store,
		hub:           b,
		recentLimit:   defaultRecentLimit,
		statsInterval: metrics.RefreshInterval(),
		newID:         newFaceID,
		now:           time.Now,
		logger:        nil, // resolved in Start
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// newFaceID returns a time-ordered UUIDv7, falling back to v4.
func newFaceID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Start begins background gauge refreshes.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("ingestion")
	}

	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.statsLoop(s.stopCh)

	s.started = true
	s.logger.Info(ctx, "ingestion service started", logger.Int("recent_limit", s.recentLimit))
	return nil
}

// Stop closes every viewer and the store.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.hub.Close(ctx)
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "close store", logger.Error(err))
	}
	s.logger.Info(ctx, "ingestion service stopped")
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Upload stores data under a fresh id, then notifies viewers. Nothing is
// broadcast unless the write succeeded.
func (s *Service) Upload(ctx context.Context, data []byte) (string, error) {
	if err := s.running(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmptyImage
	}

	rec := model.FaceRecord{ID: s.newID(), Image: data, CreatedAt: s.now().UTC()}
	if err := s.store.Insert(ctx, rec); err != nil {
		s.logger.Error(ctx, "store face", logger.String("face_id", rec.ID), logger.Error(err))
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	metrics.RecordFaceStored()

	n := s.hub.Notify(ctx, rec.ID)
	s.logger.Debug(ctx, "face stored",
		logger.String("face_id", rec.ID),
		logger.Int("bytes", len(data)),
		logger.Int("notified", n),
	)
	return rec.ID, nil
}

// GetFace returns the image bytes stored under id.
func (s *Service) GetFace(ctx context.Context, id string) ([]byte, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	img, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		return img, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrNotFound
	default:
		s.logger.Error(ctx, "read face", logger.String("face_id", id), logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
}

// ListRecent returns up to n ids, newest first. n < 1 uses the configured
// default.
func (s *Service) ListRecent(ctx context.Context, n int) ([]string, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if n < 1 {
		n = s.recentLimit
	}
	ids, err := s.store.ListRecent(ctx, n)
	if err != nil {
		s.logger.Error(ctx, "list faces", logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return ids, nil
}

// RecentLimit is the default ListRecent size.
func (s *Service) RecentLimit() int { return s.recentLimit }

// Subscribe registers conn as a viewer and blocks until it disconnects or
// ctx ends. Anything the viewer sends is ignored.
func (s *Service) Subscribe(ctx context.Context, conn hub.Conn) error {
	if err := s.running(); err != nil {
		_ = conn.Close()
		return err
	}
	v, err := s.hub.Register(ctx, conn)
	if err != nil {
		return err
	}
	s.hub.Serve(ctx, v)
	s.logger.Debug(ctx, "viewer left",
		logger.String("viewer", v.ID()),
		logger.String("reason", v.Reason()),
	)
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	stats := Stats{Started: started, RecentLimit: s.recentLimit, Viewers: s.hub.Count()}
	if !started {
		return stats, nil
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	stats.Faces = n
	return stats, nil
}

func (s *Service) statsLoop(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			if n, err := s.store.Count(ctx); err == nil {
				metrics.UpdateFacesTotal(n)
			} else {
				s.logger.Warn(ctx, "refresh face count", logger.Error(err))
			}
		}
	}
}
