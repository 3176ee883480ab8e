// concurrent.go: mutex-serialized counters store for multiple intra-process writers
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package counters

import (
	"sync"

	"github.com/agilira/concord/epochclock"
	"github.com/agilira/concord/internal/membuf"
)

// ConcurrentManager serializes Allocate and Free with a mutex so that
// multiple intra-process producer goroutines may share one counters
// store. It does not provide cross-process allocation locking: per
// spec, that remains the caller's responsibility. Readers (scanning and
// the GetCounter* queries, reached through Manager) remain lock-free.
type ConcurrentManager struct {
	mu sync.Mutex
	m  *Manager
}

// NewConcurrentManager wraps metadata/values buffers the same way
// NewManager does, adding mutual exclusion around Allocate and Free.
func NewConcurrentManager(metadata, values *membuf.Buffer, clock epochclock.EpochClock, freeToReuseTimeoutMs int64) (*ConcurrentManager, error) {
	m, err := NewManager(metadata, values, clock, freeToReuseTimeoutMs)
	if err != nil {
		return nil, err
	}
	return &ConcurrentManager{m: m}, nil
}

// Allocate is Manager.Allocate, serialized against concurrent
// Allocate/Free calls from other goroutines.
func (c *ConcurrentManager) Allocate(label string, typeID int32, key []byte) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.Allocate(label, typeID, key)
}

// Free is Manager.Free, serialized against concurrent Allocate/Free
// calls from other goroutines.
func (c *ConcurrentManager) Free(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.Free(id)
}

// Available reports how many counter ids remain before the values
// region is exhausted and no free-list id is eligible for reuse.
func (c *ConcurrentManager) Available() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	maxID := c.m.maxCounterID()
	now := c.m.clock.Time()
	eligible := int32(0)
	for _, id := range c.m.freeList {
		if id <= maxID && now >= c.m.metadata.GetInt64Acquire(metadataOffset(id)+freeForReuseDeadlineOffset) {
			eligible++
		}
	}
	return maxID - int32(c.m.idHighWaterMark) + eligible
}

// Reader exposes the lock-free read side without requiring the caller
// to hold (or avoid) the allocator's mutex.
func (c *ConcurrentManager) Reader() *Manager { return c.m }
