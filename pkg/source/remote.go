package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-camhost/internal/log"
	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/protocol"
)

// DefaultCommandTimeout bounds how long a control command waits for the
// source to answer.
const DefaultCommandTimeout = 5 * time.Second

// DefaultPingInterval is how often each source is pinged for latency.
const DefaultPingInterval = 15 * time.Second

// sourceConn is one connected camera source
type sourceConn struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time
	LastPong  time.Time
	Latency   time.Duration

	mu sync.Mutex
}

// Send sends a message to the source
func (s *sourceConn) Send(msg *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// Remote is a camera that lives on the robot and streams to the host over
// a websocket. It implements camera.Controller by sending control messages
// and waiting for the matching status reply.
//
// Several sources may connect; the most recent one is active.
type Remote struct {
	mu      sync.RWMutex
	sources map[string]*sourceConn
	active  string
	sink    Sink

	pendingMu sync.Mutex
	pending   map[string]chan protocol.StatusData

	timeout      time.Duration
	pingInterval time.Duration
	logger       *slog.Logger

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	framesRejected   atomic.Uint64
	ignored          atomic.Uint64
}

// NewRemote creates a remote source. timeout <= 0 uses DefaultCommandTimeout.
func NewRemote(timeout time.Duration, logger *slog.Logger) *Remote {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Remote{
		sources:      make(map[string]*sourceConn),
		pending:      make(map[string]chan protocol.StatusData),
		timeout:      timeout,
		pingInterval: DefaultPingInterval,
		logger:       log.Or(logger, "source"),
	}
}

// SetSink sets where frames, calibration and status go.
func (r *Remote) SetSink(sink Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// RegisterRoutes registers the source endpoints. The caller installs the
// websocket upgrade middleware on /ws.
func (r *Remote) RegisterRoutes(router fiber.Router) {
	router.Get("/ws/source", websocket.New(r.handleSource))
	router.Get("/ws/source/:id", websocket.New(r.handleSource))
}

func (r *Remote) handleSource(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	src := &sourceConn{
		ID:        id,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	r.mu.Lock()
	if old, ok := r.sources[id]; ok {
		old.Conn.Close()
	}
	r.sources[id] = src
	r.active = id
	count := len(r.sources)
	r.mu.Unlock()

	r.logger.Info("camera source connected", "source", id, "total", count)

	defer func() {
		r.mu.Lock()
		wasActive := false
		if cur, ok := r.sources[id]; ok && cur == src {
			delete(r.sources, id)
			if r.active == id {
				wasActive = true
				r.active = r.newestLocked()
			}
		}
		count := len(r.sources)
		sink := r.sink
		r.mu.Unlock()

		r.logger.Info("camera source disconnected", "source", id, "total", count)
		if wasActive && sink != nil {
			sink.HandleStatus(false)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go r.pingLoop(src, done)

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			r.logger.Debug("source read error", "source", id, "error", err)
			return
		}

		src.mu.Lock()
		src.LastSeen = time.Now()
		src.mu.Unlock()

		r.messagesReceived.Add(1)
		if mt == websocket.BinaryMessage {
			r.handleBinary(id, data)
			continue
		}
		r.handleMessage(id, data)
	}
}

// newestLocked returns the most recently connected source id.
func (r *Remote) newestLocked() string {
	var newest *sourceConn
	for _, s := range r.sources {
		if newest == nil || s.Connected.After(newest.Connected) {
			newest = s
		}
	}
	if newest == nil {
		return ""
	}
	return newest.ID
}

func (r *Remote) currentSink() Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sink
}

// fromInactive reports, and counts, data from a source that is not the
// active one. Only the active source feeds the sink.
func (r *Remote) fromInactive(id string) bool {
	if r.activeID() == id {
		return false
	}
	r.ignored.Add(1)
	return true
}

func (r *Remote) handleBinary(id string, data []byte) {
	if r.fromInactive(id) {
		r.framesRejected.Add(1)
		return
	}
	f, err := protocol.DecodeFrame(data)
	if err != nil {
		r.framesRejected.Add(1)
		r.logger.Warn("rejected frame", "source", id, "error", err)
		return
	}
	r.framesReceived.Add(1)
	if sink := r.currentSink(); sink != nil {
		sink.HandleFrame(f)
	}
}

// handleMessage processes an incoming JSON message from a source
func (r *Remote) handleMessage(id string, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		r.logger.Warn("parse error", "source", id, "error", err)
		return
	}

	sink := r.currentSink()

	switch msg.Type {
	case protocol.TypeFrame:
		if r.fromInactive(id) {
			r.framesRejected.Add(1)
			return
		}
		fd, err := msg.GetFrameData()
		if err != nil {
			r.framesRejected.Add(1)
			return
		}
		f, err := fd.Frame()
		if err != nil {
			r.framesRejected.Add(1)
			r.logger.Warn("rejected frame", "source", id, "error", err)
			return
		}
		r.framesReceived.Add(1)
		if sink != nil {
			sink.HandleFrame(f)
		}

	case protocol.TypeCameraInfo:
		if r.fromInactive(id) {
			return
		}
		info, err := msg.GetCameraInfo()
		if err != nil {
			r.logger.Warn("bad camera_info", "source", id, "error", err)
			return
		}
		if sink != nil {
			sink.HandleCameraInfo(*info)
		}

	case protocol.TypeStatus:
		status, err := msg.GetStatusData()
		if err != nil {
			return
		}
		if status.RequestID != "" {
			r.resolve(*status)
		}
		if r.fromInactive(id) {
			return
		}
		if sink != nil && status.Error == "" {
			sink.HandleStatus(status.Open)
		}

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			return
		}
		sent := ping.Timestamp
		if sent == 0 {
			sent = msg.Timestamp
		}
		pong, err := protocol.NewPongMessage(ping.ID, sent, time.Now().UnixMilli())
		if err == nil {
			r.sendTo(id, pong)
		}

	case protocol.TypePong:
		pong, err := msg.GetPongData()
		if err != nil || pong.PingTS == 0 {
			return
		}
		// PingTS is our own clock, so the round trip ignores source skew.
		now := time.Now()
		rtt := now.Sub(time.UnixMilli(pong.PingTS))
		r.mu.RLock()
		src, ok := r.sources[id]
		r.mu.RUnlock()
		if ok {
			src.mu.Lock()
			src.LastPong = now
			src.Latency = rtt
			src.mu.Unlock()
		}
	}
}

// pingLoop pings src until done closes or a send fails.
func (r *Remote) pingLoop(src *sourceConn, done <-chan struct{}) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ping, err := protocol.NewPingMessage(uuid.NewString())
			if err != nil {
				continue
			}
			r.messagesSent.Add(1)
			if err := src.Send(ping); err != nil {
				r.logger.Debug("ping failed", "source", src.ID, "error", err)
				return
			}
		}
	}
}

func (r *Remote) resolve(status protocol.StatusData) {
	r.pendingMu.Lock()
	ch, ok := r.pending[status.RequestID]
	delete(r.pending, status.RequestID)
	r.pendingMu.Unlock()

	if ok {
		ch <- status
	}
}

func (r *Remote) sendTo(id string, msg *protocol.Message) error {
	r.mu.RLock()
	src, ok := r.sources[id]
	r.mu.RUnlock()

	if !ok {
		return camera.ErrNotConnected
	}
	r.messagesSent.Add(1)
	return src.Send(msg)
}

func (r *Remote) activeID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// command sends cmd to the active source and waits for its status reply.
func (r *Remote) command(ctx context.Context, cmd protocol.ControlCommand) (protocol.StatusData, error) {
	id := r.activeID()
	if id == "" {
		return protocol.StatusData{}, camera.ErrNotConnected
	}

	cmd.RequestID = uuid.NewString()
	msg, err := protocol.NewControlMessage(cmd)
	if err != nil {
		return protocol.StatusData{}, err
	}

	reply := make(chan protocol.StatusData, 1)
	r.pendingMu.Lock()
	r.pending[cmd.RequestID] = reply
	r.pendingMu.Unlock()

	defer func() {
		r.pendingMu.Lock()
		delete(r.pending, cmd.RequestID)
		r.pendingMu.Unlock()
	}()

	if err := r.sendTo(id, msg); err != nil {
		return protocol.StatusData{}, fmt.Errorf("send %s: %w", cmd.Command, err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case status := <-reply:
		if status.Error != "" {
			if status.Busy {
				return status, fmt.Errorf("%w: %s", camera.ErrCameraBusy, status.Error)
			}
			return status, fmt.Errorf("%s: %s", cmd.Command, status.Error)
		}
		return status, nil
	case <-timer.C:
		return protocol.StatusData{}, fmt.Errorf("%s: no reply from source %s after %s", cmd.Command, id, r.timeout)
	case <-ctx.Done():
		return protocol.StatusData{}, ctx.Err()
	}
}

// Open asks the source to open its camera.
func (r *Remote) Open(ctx context.Context) error {
	status, err := r.command(ctx, protocol.ControlCommand{Command: protocol.CommandOpen})
	if err != nil {
		return err
	}
	if !status.Open {
		return fmt.Errorf("%w: source did not open the camera", camera.ErrCameraBusy)
	}
	return nil
}

// Close asks the source to close its camera.
func (r *Remote) Close(ctx context.Context) error {
	_, err := r.command(ctx, protocol.ControlCommand{Command: protocol.CommandClose})
	if errors.Is(err, camera.ErrNotConnected) {
		return nil
	}
	return err
}

// SetExposure forwards an exposure value.
func (r *Remote) SetExposure(ctx context.Context, v int) error {
	_, err := r.command(ctx, protocol.ControlCommand{Command: protocol.CommandExposure, Value: v})
	return err
}

// SetGain forwards a gain value.
func (r *Remote) SetGain(ctx context.Context, v int) error {
	_, err := r.command(ctx, protocol.ControlCommand{Command: protocol.CommandGain, Value: v})
	return err
}

// SetWhiteBalance forwards white balance gains.
func (r *Remote) SetWhiteBalance(ctx context.Context, red, green, blue int) error {
	_, err := r.command(ctx, protocol.ControlCommand{Command: protocol.CommandWhiteBalance, Values: [3]int{red, green, blue}})
	return err
}

// SetFPS forwards a frame rate.
func (r *Remote) SetFPS(ctx context.Context, fps float64) error {
	_, err := r.command(ctx, protocol.ControlCommand{Command: protocol.CommandFPS, FPS: fps})
	return err
}

// SetResolution forwards a sensor mode.
func (r *Remote) SetResolution(ctx context.Context, mode int, res camera.Resolution) error {
	_, err := r.command(ctx, protocol.ControlCommand{
		Command: protocol.CommandResolution,
		Mode:    mode,
		Width:   res.Width,
		Height:  res.Height,
	})
	return err
}

// AckCalibration tells the active source to stop sending camera_info.
func (r *Remote) AckCalibration() error {
	id := r.activeID()
	if id == "" {
		return camera.ErrNotConnected
	}
	msg, err := protocol.NewCalibrationAckMessage()
	if err != nil {
		return err
	}
	return r.sendTo(id, msg)
}

// Connected reports whether any source is connected.
func (r *Remote) Connected() bool {
	return r.activeID() != ""
}

// SourceInfo describes a connected source
type SourceInfo struct {
	ID        string    `json:"id"`
	Active    bool      `json:"active"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	LastPong  time.Time `json:"last_pong"`
	LatencyMs int64     `json:"latency_ms"`
}

// Sources returns info about all connected sources
func (r *Remote) Sources() []SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SourceInfo, 0, len(r.sources))
	for _, s := range r.sources {
		s.mu.Lock()
		infos = append(infos, SourceInfo{
			ID:        s.ID,
			Active:    s.ID == r.active,
			Connected: s.Connected,
			LastSeen:  s.LastSeen,
			LastPong:  s.LastPong,
			LatencyMs: s.Latency.Milliseconds(),
		})
		s.mu.Unlock()
	}
	return infos
}

// Stats contains source statistics
type Stats struct {
	Sources          int    `json:"sources"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesReceived   uint64 `json:"frames_received"`
	FramesRejected   uint64 `json:"frames_rejected"`
	Ignored          uint64 `json:"ignored"` // messages from inactive sources
}

// GetStats returns source statistics
func (r *Remote) GetStats() Stats {
	r.mu.RLock()
	n := len(r.sources)
	r.mu.RUnlock()

	return Stats{
		Sources:          n,
		MessagesReceived: r.messagesReceived.Load(),
		MessagesSent:     r.messagesSent.Load(),
		FramesReceived:   r.framesReceived.Load(),
		FramesRejected:   r.framesRejected.Load(),
		Ignored:          r.ignored.Load(),
	}
}
