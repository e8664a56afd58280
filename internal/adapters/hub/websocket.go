package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Keepalive timings for websocket viewers.
const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	closeGrace = time.Second
)

// WSConn adapts a gorilla websocket connection to Conn and keeps it alive
// with pings. A viewer that stops answering pings is seen as disconnected.
type WSConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	stop      chan struct{}
}

// NewWSConn wraps ws and starts its ping loop.
func NewWSConn(ws *websocket.Conn) *WSConn {
	c := &WSConn{ws: ws, stop: make(chan struct{})}
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop()
	return c
}

// Send implements Conn.
func (c *WSConn) Send(msg string, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Receive implements Conn. Inbound payloads are discarded.
func (c *WSConn) Receive() error {
	_, _, err := c.ws.ReadMessage()
	if err == nil {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	}
	return err
}

// Close sends a close frame and tears the connection down.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGrace)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
