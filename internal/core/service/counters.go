package service

import (
	"sync"

	"github.com/mbientlab/metabase/internal/core/domain"
)

// StreamingCounters counts streamed samples per device and signal. Stream
// goroutines increment it; the orchestrator snapshots it on a timer.
type StreamingCounters struct {
	mu     sync.Mutex
	counts map[string]map[domain.Signal]uint64
	dirty  bool
}

func NewStreamingCounters() *StreamingCounters {
	return &StreamingCounters{
		counts: make(map[string]map[domain.Signal]uint64),
	}
}

func (c *StreamingCounters) Add(mac string, signal domain.Signal, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	perSignal, ok := c.counts[mac]
	if !ok {
		perSignal = make(map[domain.Signal]uint64)
		c.counts[mac] = perSignal
	}
	perSignal[signal] += n
	c.dirty = true
}

// Dirty reports whether a counter moved since the last snapshot.
func (c *StreamingCounters) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

func (c *StreamingCounters) Snapshot() map[string]map[domain.Signal]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[domain.Signal]uint64, len(c.counts))
	for mac, perSignal := range c.counts {
		cp := make(map[domain.Signal]uint64, len(perSignal))
		for s, n := range perSignal {
			cp[s] = n
		}
		out[mac] = cp
	}
	c.dirty = false
	return out
}

func (c *StreamingCounters) Total(mac string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, n := range c.counts[mac] {
		total += n
	}
	return total
}

func (c *StreamingCounters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]map[domain.Signal]uint64)
	c.dirty = false
}
