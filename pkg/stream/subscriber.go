package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-camhost/pkg/frame"
)

// Endpoint is the transport side of one subscriber.
// Send is only ever called from a single goroutine per endpoint.
type Endpoint interface {
	Send(f *frame.Frame) error
	Close() error
}

// subscriber is the registry's record for one endpoint. It owns a
// single-slot mailbox: a new frame replaces one the sender has not
// picked up yet.
type subscriber struct {
	key Key
	ep  Endpoint

	mu      sync.Mutex
	pending *frame.Frame
	wake    chan struct{}
	done    chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

func newSubscriber(key Key, ep Endpoint) *subscriber {
	return &subscriber{
		key:  key,
		ep:   ep,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// offer places f in the mailbox. It never blocks and reports whether an
// undelivered frame was overwritten.
func (s *subscriber) offer(f *frame.Frame) (dropped bool) {
	s.mu.Lock()
	dropped = s.pending != nil
	s.pending = f
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return dropped
}

func (s *subscriber) take() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.pending
	s.pending = nil
	return f
}

// run sends mailbox frames until the subscriber is closed or a send fails.
func (s *subscriber) run(report func(s *subscriber, r Result)) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		f := s.take()
		if f == nil {
			continue
		}

		start := time.Now()
		err := s.ep.Send(f)
		r := Result{Key: s.key, Seq: f.Seq, Outcome: Delivered, Duration: time.Since(start)}
		if err != nil {
			r.Outcome = Failed
			r.Err = err
		}
		report(s, r)
		if err != nil {
			return
		}
	}
}

// close is idempotent; Connected -> Closed is one-way.
func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.ep.Close()
	})
}
