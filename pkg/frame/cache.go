package frame

import (
	"sync"
	"time"
)

// PublishFunc receives every frame after it becomes visible in the cache.
type PublishFunc func(f *Frame)

// Cache holds exactly one frame: the newest.
//
// Set swaps a pointer under the lock, so a Get never observes a partially
// written frame. The publish hook runs after the swap and outside the lock.
type Cache struct {
	mu     sync.RWMutex
	frame  *Frame
	header Header
	seq    uint64

	publish PublishFunc
}

// NewCache creates an empty cache. publish may be nil.
func NewCache(publish PublishFunc) *Cache {
	return &Cache{publish: publish}
}

// Set replaces the cached frame and pushes it to the publish hook exactly once.
// The cache takes ownership of f; callers must not touch it afterwards.
func (c *Cache) Set(f *Frame) {
	if f == nil {
		return
	}

	c.mu.Lock()
	c.seq++
	f.Seq = c.seq
	if f.Captured.IsZero() {
		f.Captured = time.Now()
	}
	c.frame = f
	c.header = f.Header()
	publish := c.publish
	c.mu.Unlock()

	if publish != nil {
		publish(f)
	}
}

// Get returns the newest frame, or false before the first capture.
func (c *Cache) Get() (*Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame, c.frame != nil
}

// Header returns the geometry of the last frame seen, even after Clear.
func (c *Cache) Header() Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header
}

// SetHeader records the expected geometry before any frame arrives.
func (c *Cache) SetHeader(h Header) {
	c.mu.Lock()
	c.header = h
	c.mu.Unlock()
}

// Seq returns the number of frames published so far.
func (c *Cache) Seq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// Clear drops the cached frame, e.g. when the camera is closed.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.frame = nil
	c.mu.Unlock()
}
