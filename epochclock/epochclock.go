// epochclock.go: wall-clock source for counter quarantine deadlines
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package epochclock supplies the EpochClock the counters package compares
// freeForReuseDeadline against. It wraps github.com/agilira/go-timecache the
// same way lethe.go caches time for log-line timestamps, generalized from
// "time to stamp a line" to "time to test a deadline".
package epochclock

import (
	"time"

	timecache "github.com/agilira/go-timecache"
)

// EpochClock returns the current time as milliseconds since the Unix
// epoch. Implementations must be safe for concurrent use: the counters
// store's scanning readers and its allocator may call Time() from
// different goroutines (or, for ConcurrentManager, different threads)
// at once.
type EpochClock interface {
	Time() int64
}

// zeroClock always reports 0, matching spec's "epochClock defaults to a
// zero clock (timeout inactive)": with Time() pinned at 0, a freed
// counter's deadline is 0 + freeToReuseTimeoutMs, so nextCounterId's
// deadline test (now >= deadline) holds at once when the timeout is 0
// and never holds when the timeout is positive.
type zeroClock struct{}

func (zeroClock) Time() int64 { return 0 }

// ZeroClock returns the inactive clock used when no epochClock is given
// to a counters.Manager constructor.
func ZeroClock() EpochClock { return zeroClock{} }

// cachedClock wraps a timecache.TimeCache, refreshed at a fixed
// resolution rather than syscalling time.Now() on every read. Multiple
// counters.Manager instances in the same process may share one
// cachedClock.
type cachedClock struct {
	cache *timecache.TimeCache
}

// StoppableClock is an EpochClock that owns a background resource and
// must be released when no longer needed.
type StoppableClock interface {
	EpochClock
	Stop()
}

// SystemClock returns an EpochClock backed by a millisecond-resolution
// time cache, suitable for driving counter quarantine deadlines in a
// live process. Resolution finer than a millisecond buys nothing here:
// freeToReuseTimeoutMs is itself specified in milliseconds. The
// returned value also satisfies StoppableClock; callers that own the
// clock's lifecycle should keep it typed that way so they can Stop it.
func SystemClock() StoppableClock {
	return &cachedClock{cache: timecache.NewWithResolution(time.Millisecond)}
}

func (c *cachedClock) Time() int64 {
	return c.cache.CachedTime().UnixMilli()
}

// Stop releases the background refresh goroutine backing the cache.
// Safe to call once the clock is no longer needed; unused clocks (the
// zero clock) have no such resource.
func (c *cachedClock) Stop() {
	c.cache.Stop()
}
