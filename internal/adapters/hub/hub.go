// Package hub fans out new-face notifications to live viewers.
//
// Each viewer owns a bounded buffer drained by its own writer goroutine, so
// Notify never waits on a slow or dead viewer: one whose buffer is full, or
// whose write fails or exceeds the send timeout, is closed and removed while
// the rest keep receiving.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/facewatch/pkg/logger"
	"github.com/okian/facewatch/pkg/metrics"
)

// Default hub configuration constants.
const (
	defaultSendTimeout = 5 * time.Second
	defaultSendBuffer  = 16
)

// Hub tracks registered viewers.
type Hub struct {
	mu      sync.RWMutex
	viewers map[*Viewer]struct{}
	closed  bool

	sendTimeout time.Duration
	sendBuffer  int

	logger logger.Logger
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		viewers:     make(map[*Viewer]struct{}),
		sendTimeout: defaultSendTimeout,
		sendBuffer:  defaultSendBuffer,
		logger:      logger.Get().Named("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds conn as a viewer and starts its writer. The viewer is Open
// when Register returns. After Close, conn is closed and ErrHubClosed
// returned.
func (h *Hub) Register(ctx context.Context, conn Conn) (*Viewer, error) {
	v := newViewer(uuid.NewString(), conn, h.sendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		v.close("hub closed")
		return nil, ErrHubClosed
	}
	h.viewers[v] = struct{}{}
	if err := v.open(); err != nil {
		delete(h.viewers, v)
		h.mu.Unlock()
		return nil, err
	}
	n := len(h.viewers)
	metrics.UpdateViewersConnected(n)
	h.mu.Unlock()

	go h.writeLoop(v)

	h.logger.Info(ctx, "viewer connected", logger.String("viewer", v.id), logger.Int("viewers", n))
	return v, nil
}

// Unregister closes and removes v. Calling it more than once is harmless.
func (h *Hub) Unregister(ctx context.Context, v *Viewer) {
	h.remove(ctx, v, "unregistered")
}

func (h *Hub) remove(ctx context.Context, v *Viewer, reason string) {
	h.mu.Lock()
	_, ok := h.viewers[v]
	delete(h.viewers, v)
	n := len(h.viewers)
	if ok {
		metrics.UpdateViewersConnected(n)
	}
	h.mu.Unlock()

	if v.close(reason) || ok {
		h.logger.Info(ctx, "viewer disconnected",
			logger.String("viewer", v.id),
			logger.String("reason", reason),
			logger.Int("viewers", n),
		)
	}
}

// Notify queues id for every registered viewer and returns how many
// accepted it. Viewers that cannot take it are closed and removed.
func (h *Hub) Notify(ctx context.Context, id string) int {
	h.mu.RLock()
	targets := make([]*Viewer, 0, len(h.viewers))
	for v := range h.viewers {
		targets = append(targets, v)
	}
	h.mu.RUnlock()

	queued := 0
	for _, v := range targets {
		if v.enqueue(id) {
			queued++
			metrics.RecordNotification("queued")
			continue
		}
		metrics.RecordNotification("dropped")
		h.remove(ctx, v, "send buffer full")
	}
	return queued
}

// Serve blocks while v's remote end is connected, discarding anything it
// sends. It returns when the connection ends, ctx is cancelled or v is
// closed, always leaving v unregistered.
func (h *Hub) Serve(ctx context.Context, v *Viewer) {
	stop := context.AfterFunc(ctx, func() { h.remove(context.WithoutCancel(ctx), v, "context done") })
	defer stop()

	for {
		if err := v.conn.Receive(); err != nil {
			h.remove(ctx, v, "remote closed")
			return
		}
	}
}

func (h *Hub) writeLoop(v *Viewer) {
	ctx := logger.WithFields(context.Background(), logger.String("viewer", v.id))
	for {
		select {
		case <-v.done:
			return
		case msg := <-v.send:
			if err := v.conn.Send(msg, h.sendTimeout); err != nil {
				metrics.RecordNotification("failed")
				h.logger.Warn(ctx, "send to viewer failed", logger.Error(err))
				h.remove(ctx, v, "send failed")
				return
			}
			metrics.RecordNotification("sent")
		}
	}
}

// Count returns the number of registered viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Close closes every viewer and rejects new registrations.
func (h *Hub) Close(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	viewers := h.viewers
	h.viewers = make(map[*Viewer]struct{})
	metrics.UpdateViewersConnected(0)
	h.mu.Unlock()

	for v := range viewers {
		v.close("hub closed")
	}
	h.logger.Info(ctx, "hub closed", logger.Int("viewers", len(viewers)))
}
