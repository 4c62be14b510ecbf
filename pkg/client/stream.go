package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/protocol"
)

// Stream receives frames from one subscriber stream.
type Stream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// streamURL turns http(s)://host into ws(s)://host/ws/stream/<index>.
func (c *Client) streamURL(index int, connID string) string {
	base := c.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	u := fmt.Sprintf("%s/ws/stream/%d", base, index)
	if connID != "" {
		u += "?conn=" + url.QueryEscape(connID)
	}
	return u
}

// Stream subscribes to stream index. An empty connID lets the host pick one;
// reusing a connID and index replaces the earlier stream.
func (c *Client) Stream(ctx context.Context, index int, connID string) (*Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL(index, connID), nil)
	if err != nil {
		return nil, fmt.Errorf("stream connect failed: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks for the next frame.
func (s *Stream) Next() (*frame.Frame, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return protocol.DecodeFrame(data)
	}
}

// Close ends the subscription. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
