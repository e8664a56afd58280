package hub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is one live viewer channel.
type Conn interface {
	// Send writes one text message, failing if it takes longer than timeout.
	Send(msg string, timeout time.Duration) error
	// Receive blocks until the remote end sends something. Any error,
	// including end of stream, means the connection is gone.
	Receive() error
	Close() error
}

// State is a viewer lifecycle stage. Transitions only move forward:
// Connecting -> Open -> Closed.
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Viewer is a registered connection with its own outbound buffer.
type Viewer struct {
	id    string
	conn  Conn
	send  chan string
	state atomic.Int32

	closeOnce sync.Once
	done      chan struct{}
	reason    atomic.Value // string
}

func newViewer(id string, conn Conn, buffer int) *Viewer {
	v := &Viewer{
		id:   id,
		conn: conn,
		send: make(chan string, buffer),
		done: make(chan struct{}),
	}
	v.state.Store(int32(Connecting))
	return v
}

// ID identifies the viewer in logs.
func (v *Viewer) ID() string { return v.id }

// State returns the current lifecycle stage.
func (v *Viewer) State() State { return State(v.state.Load()) }

// Reason explains why the viewer closed, empty while it is open.
func (v *Viewer) Reason() string {
	r, _ := v.reason.Load().(string)
	return r
}

// open moves Connecting -> Open. It fails if the viewer already closed.
func (v *Viewer) open() error {
	if !v.state.CompareAndSwap(int32(Connecting), int32(Open)) {
		return ErrViewerClosed
	}
	return nil
}

// enqueue hands msg to the writer without blocking. False means the viewer
// is closed or its buffer is full.
func (v *Viewer) enqueue(msg string) bool {
	if v.State() != Open {
		return false
	}
	select {
	case v.send <- msg:
		return true
	default:
		return false
	}
}

// close moves the viewer to Closed exactly once and reports whether this
// call did it.
func (v *Viewer) close(reason string) bool {
	closed := false
	v.closeOnce.Do(func() {
		v.reason.Store(reason)
		v.state.Store(int32(Closed))
		close(v.done)
		_ = v.conn.Close()
		closed = true
	})
	return closed
}
