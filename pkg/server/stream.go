package server

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/protocol"
	"github.com/teslashibe/go-camhost/pkg/stream"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds what a subscriber may send us
	maxMessageSize = 4 * 1024
)

var errEndpointClosed = errors.New("server: stream endpoint closed")

// wsEndpoint delivers frames to one subscriber as msgpack binary messages.
type wsEndpoint struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (e *wsEndpoint) Send(f *frame.Frame) error {
	b, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEndpointClosed
	}
	e.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return e.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (e *wsEndpoint) ping() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEndpointClosed
	}
	return e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close waits for an in-flight Send, then closes the socket.
func (e *wsEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return e.conn.Close()
}

// handleStream serves /ws/stream/:index?conn=<id>. The connection id
// defaults to a fresh uuid; connecting again with the same id and index
// replaces the earlier stream.
func (s *Server) handleStream(c *websocket.Conn) {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil || index < 0 {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "invalid stream index"),
			time.Now().Add(time.Second))
		return
	}

	connID := c.Query("conn")
	if connID == "" {
		connID = uuid.NewString()
	}
	key := stream.Key{ConnectionID: connID, Index: index}
	ep := &wsEndpoint{conn: c}

	s.svc.ConnectStream(key, ep)
	defer func() {
		s.svc.Registry().DisconnectEndpoint(key, ep)
		ep.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ep.ping(); err != nil {
					return
				}
			}
		}
	}()

	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Subscribers only receive; reading detects the disconnect.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
