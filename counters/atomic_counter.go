// atomic_counter.go: counter value handle with an explicit ordering matrix
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package counters

import "github.com/agilira/concord/internal/membuf"

// freer is the subset of Manager (or ConcurrentManager) AtomicCounter
// needs to implement Close.
type freer interface {
	Free(id int32)
}

// AtomicCounter maps a counter id onto its 8-byte value slot and
// exposes every load/store ordering flavor a caller might need, as one
// concrete type rather than a flavor-per-subclass hierarchy: strong
// atomic (volatile loads, volatile/CAS/getAndAdd stores), release/
// acquire (single-writer/many-readers), opaque (single-copy atomic, no
// ordering), and plain (same-thread only).
//
// Every mutating method's doc comment names the load flavor it must be
// paired with. Mixing flavors compiles and runs; whether the result is
// correct is the caller's responsibility, same as in the counters store
// itself.
type AtomicCounter struct {
	values *membuf.Buffer
	offset int
	id     int32
	owner  freer
	closed bool
}

// NewAtomicCounter wraps id's value slot in values. owner may be nil;
// when set, Close calls owner.Free(id).
func NewAtomicCounter(values *membuf.Buffer, id int32, owner freer) *AtomicCounter {
	return &AtomicCounter{
		values: values,
		offset: valueRecordOffset(id) + valueOffset,
		id:     id,
		owner:  owner,
	}
}

// ID returns the counter id this handle addresses.
func (c *AtomicCounter) ID() int32 { return c.id }

// Get performs a plain (same-goroutine) read.
func (c *AtomicCounter) Get() int64 { return c.values.GetInt64(c.offset) }

// GetVolatile performs a sequentially consistent read, the counterpart
// to SetVolatile/CompareAndSet/GetAndAdd/GetAndSet.
func (c *AtomicCounter) GetVolatile() int64 { return c.values.GetInt64Volatile(c.offset) }

// GetAcquire must be paired with a writer's SetOrdered (release): once
// it observes a released value, every plain write that writer made
// before the release is visible here.
func (c *AtomicCounter) GetAcquire() int64 { return c.values.GetInt64Acquire(c.offset) }

// GetOpaque performs a single-copy atomic read with no ordering
// guarantee relative to other memory accesses; pair with SetOpaque.
func (c *AtomicCounter) GetOpaque() int64 { return c.values.GetInt64Opaque(c.offset) }

// Set performs a plain (same-goroutine) write; pair with Get.
func (c *AtomicCounter) Set(v int64) { c.values.PutInt64(c.offset, v) }

// SetOrdered publishes v for a matching GetAcquire: the single-writer/
// many-readers flavor.
func (c *AtomicCounter) SetOrdered(v int64) { c.values.PutInt64Release(c.offset, v) }

// SetOpaque stores v as a single-copy atomic write with no ordering
// guarantee; pair with GetOpaque.
func (c *AtomicCounter) SetOpaque(v int64) { c.values.PutInt64Opaque(c.offset, v) }

// SetVolatile stores v with sequentially consistent ordering; pair with
// GetVolatile.
func (c *AtomicCounter) SetVolatile(v int64) { c.values.PutInt64Volatile(c.offset, v) }

// CompareAndSet is a strong CAS against the sequentially consistent
// value; pair with GetVolatile.
func (c *AtomicCounter) CompareAndSet(expect, update int64) bool {
	return c.values.CompareAndSetInt64(c.offset, expect, update)
}

// GetAndSet atomically stores v and returns the prior value.
func (c *AtomicCounter) GetAndSet(v int64) int64 {
	return c.values.GetAndSetInt64(c.offset, v)
}

// GetAndAdd atomically adds delta and returns the prior value. Safe for
// multiple concurrent writers.
func (c *AtomicCounter) GetAndAdd(delta int64) int64 {
	return c.values.GetAndAddInt64(c.offset, delta)
}

// ProposeMax atomically updates the value to v if and only if the
// current value is less than v, returning whether it did. Safe for
// multiple concurrent proposers: it retries its CAS against a fresh
// volatile read on contention.
func (c *AtomicCounter) ProposeMax(v int64) bool {
	for {
		current := c.values.GetInt64Volatile(c.offset)
		if current >= v {
			return false
		}
		if c.values.CompareAndSetInt64(c.offset, current, v) {
			return true
		}
	}
}

// ProposeMaxOrdered is ProposeMax's single-writer fast path: a plain
// load followed by a release store, with no CAS. Only safe when the
// caller already knows it is the sole writer of this counter.
func (c *AtomicCounter) ProposeMaxOrdered(v int64) bool {
	current := c.values.GetInt64(c.offset)
	if current >= v {
		return false
	}
	c.values.PutInt64Release(c.offset, v)
	return true
}

// Close frees the underlying counter id via the owning store, if one
// was attached. Idempotent: calling it more than once is a no-op after
// the first call.
func (c *AtomicCounter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.owner != nil {
		c.owner.Free(c.id)
	}
	return nil
}
