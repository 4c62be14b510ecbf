// Package stream keeps the set of live frame-stream subscribers and fans
// every new frame out to them without blocking the producer.
package stream

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-camhost/internal/log"
	"github.com/teslashibe/go-camhost/pkg/frame"
)

// Registry owns all subscriber records, keyed by (connection, index).
//
// Broadcast snapshots the records under the lock and hands the frame to each
// record's mailbox outside it. Each record sends on its own goroutine, so a
// slow or dead endpoint never delays the producer or another endpoint. The
// first failed send removes the record.
type Registry struct {
	mu   sync.RWMutex
	subs map[Key]*subscriber

	logger   *slog.Logger
	onResult func(Result)

	// Stats
	broadcasts atomic.Uint64
	delivered  atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
}

// NewRegistry creates an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		subs:   make(map[Key]*subscriber),
		logger: log.Or(logger, "stream"),
	}
}

// OnResult sets a callback invoked with every delivery result.
func (r *Registry) OnResult(callback func(Result)) {
	r.mu.Lock()
	r.onResult = callback
	r.mu.Unlock()
}

// Connect registers ep under key. An existing record for the same key is
// replaced and closed.
func (r *Registry) Connect(key Key, ep Endpoint) {
	s := newSubscriber(key, ep)

	r.mu.Lock()
	old := r.subs[key]
	r.subs[key] = s
	count := len(r.subs)
	r.mu.Unlock()

	go s.run(r.report)

	if old != nil {
		old.close()
		r.logger.Debug("stream endpoint replaced", "key", key.String())
	}
	r.logger.Info("stream connected", "key", key.String(), "subscribers", count)
}

// Disconnect removes and closes the record for key. Unknown keys are ignored.
func (r *Registry) Disconnect(key Key) {
	r.mu.Lock()
	s, ok := r.subs[key]
	if ok {
		delete(r.subs, key)
	}
	count := len(r.subs)
	r.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	r.logger.Info("stream disconnected", "key", key.String(), "subscribers", count)
}

// DisconnectEndpoint removes key only while ep is still the endpoint
// registered for it. A transport whose endpoint was replaced by a reconnect
// uses this so its own teardown leaves the new record alone.
func (r *Registry) DisconnectEndpoint(key Key, ep Endpoint) {
	r.mu.Lock()
	s, ok := r.subs[key]
	if ok && s.ep != ep {
		ok = false
	}
	if ok {
		delete(r.subs, key)
	}
	r.mu.Unlock()

	if ok {
		s.close()
		r.logger.Info("stream disconnected", "key", key.String())
	}
}

// DisconnectConnection removes every index opened by one connection.
func (r *Registry) DisconnectConnection(connectionID string) {
	r.mu.Lock()
	var removed []*subscriber
	for k, s := range r.subs {
		if k.ConnectionID == connectionID {
			removed = append(removed, s)
			delete(r.subs, k)
		}
	}
	r.mu.Unlock()

	for _, s := range removed {
		s.close()
	}
}

// Broadcast offers f to every endpoint registered at the time of the call.
// It returns the number of endpoints the frame was offered to.
func (r *Registry) Broadcast(f *frame.Frame) int {
	if f == nil {
		return 0
	}

	r.mu.RLock()
	subs := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	r.broadcasts.Add(1)
	for _, s := range subs {
		if s.offer(f) {
			r.dropped.Add(1)
		}
	}
	return len(subs)
}

// report is called by a subscriber's sender after each attempt.
func (r *Registry) report(s *subscriber, res Result) {
	switch res.Outcome {
	case Delivered:
		r.delivered.Add(1)
	case Failed:
		r.failed.Add(1)
		r.remove(s)
		r.logger.Warn("stream delivery failed, endpoint removed",
			"key", res.Key.String(), "seq", res.Seq, "error", res.Err)
	}

	r.mu.RLock()
	cb := r.onResult
	r.mu.RUnlock()
	if cb != nil {
		cb(res)
	}
}

// remove drops s only if it is still the record registered for its key.
func (r *Registry) remove(s *subscriber) {
	r.mu.Lock()
	if cur, ok := r.subs[s.key]; ok && cur == s {
		delete(r.subs, s.key)
	}
	r.mu.Unlock()
	s.close()
}

// Has reports whether key is registered.
func (r *Registry) Has(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[key]
	return ok
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Keys returns the registered keys in a stable order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ConnectionID != keys[j].ConnectionID {
			return keys[i].ConnectionID < keys[j].ConnectionID
		}
		return keys[i].Index < keys[j].Index
	})
	return keys
}

// Stats returns registry statistics
func (r *Registry) Stats() Stats {
	return Stats{
		Subscribers: r.Len(),
		Broadcasts:  r.broadcasts.Load(),
		Delivered:   r.delivered.Load(),
		Failed:      r.failed.Load(),
		Dropped:     r.dropped.Load(),
	}
}

// CloseAll removes and closes every endpoint.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[Key]*subscriber)
	r.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}
