// membuf.go: aligned shared buffer with explicit-ordering atomic access
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package membuf wraps a contiguous []byte (in-process, or backed by an
// mmap'd file via shmfile) and exposes aligned 32/64-bit loads and stores
// under the explicit orderings the ring buffers and counters store need:
// plain, "volatile" (sequentially consistent), acquire/release, and
// opaque.
//
// Go's sync/atomic gives every atomic op sequentially-consistent
// semantics; there is no native acquire-only or release-only primitive
// the way there is in C11 or Java's VarHandle. Rather than fabricate a
// weaker ordering Go cannot express, every non-plain flavor below is
// implemented with the same atomic instruction and named for the
// ordering the caller must treat it as providing. Each method's doc
// comment says which counterpart flavor it must be paired with, per the
// open question this module inherited: document the pairing, don't
// silently strengthen it.
package membuf

import (
	"sync/atomic"
	"unsafe"

	"github.com/agilira/concord/internal/cerrors"
)

// Buffer is a bounds-checked, alignment-aware view over a byte slice.
type Buffer struct {
	data []byte
}

// Wrap returns a Buffer over b. b is not copied; callers that need the
// buffer to be visible across processes must back it with shmfile.Map.
func Wrap(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Len returns the capacity of the wrapped region in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes exposes the underlying slice. Callers must not reslice or grow
// it; use PutBytes/SetMemory for bulk mutation.
func (b *Buffer) Bytes() []byte { return b.data }

// VerifyAlignment fails if the buffer's base address is not 8-byte
// aligned, which every 64-bit atomic access below requires.
func (b *Buffer) VerifyAlignment() error {
	if len(b.data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&b.data[0]))
	if addr%8 != 0 {
		return cerrors.New(cerrors.BoundsCheck, "buffer base address is not 8-byte aligned")
	}
	return nil
}

func (b *Buffer) checkBounds(offset, size int) error {
	if offset < 0 || size < 0 || offset+size > len(b.data) {
		return cerrors.New(cerrors.BoundsCheck, "offset out of range")
	}
	return nil
}

func (b *Buffer) mustCheckBounds(offset, size int) {
	if err := b.checkBounds(offset, size); err != nil {
		panic(err)
	}
}

func (b *Buffer) ptr32(offset int) *int32 {
	b.mustCheckBounds(offset, 4)
	return (*int32)(unsafe.Pointer(&b.data[offset]))
}

func (b *Buffer) ptr64(offset int) *int64 {
	b.mustCheckBounds(offset, 8)
	return (*int64)(unsafe.Pointer(&b.data[offset]))
}

// --- 32-bit access ---

// GetInt32 performs a plain (non-atomic) read. Use only when the caller
// already holds happens-before visibility of the write, e.g. same
// goroutine, or after an acquire paired with the writer's release.
func (b *Buffer) GetInt32(offset int) int32 {
	return *b.ptr32(offset)
}

// GetInt32Volatile performs a sequentially consistent read, ordered
// against every other volatile/acquire/release access to this address
// from any goroutine.
func (b *Buffer) GetInt32Volatile(offset int) int32 {
	return atomic.LoadInt32(b.ptr32(offset))
}

// GetInt32Acquire must be paired with a writer's PutInt32Release (or
// PutInt32Ordered) on the same offset: once this load observes the
// released value, all plain writes the producer made before that
// release are visible to this goroutine.
func (b *Buffer) GetInt32Acquire(offset int) int32 {
	return atomic.LoadInt32(b.ptr32(offset))
}

// GetInt32Opaque performs a single-copy atomic read with no ordering
// guarantee relative to other memory accesses: it never observes a
// torn write, but carries no happens-before relationship.
func (b *Buffer) GetInt32Opaque(offset int) int32 {
	return atomic.LoadInt32(b.ptr32(offset))
}

// PutInt32 performs a plain (non-atomic) write.
func (b *Buffer) PutInt32(offset int, v int32) {
	*b.ptr32(offset) = v
}

// PutInt32Ordered is an alias for PutInt32Release kept for callers that
// think in terms of "ordered stores" rather than C11-style release.
func (b *Buffer) PutInt32Ordered(offset int, v int32) {
	b.PutInt32Release(offset, v)
}

// PutInt32Release publishes v so that a matching GetInt32Acquire on the
// same offset observes every plain write this goroutine made before
// this call.
func (b *Buffer) PutInt32Release(offset int, v int32) {
	atomic.StoreInt32(b.ptr32(offset), v)
}

// PutInt32Opaque stores v as a single-copy atomic write with no
// ordering guarantee.
func (b *Buffer) PutInt32Opaque(offset int, v int32) {
	atomic.StoreInt32(b.ptr32(offset), v)
}

// PutInt32Volatile stores v with sequentially consistent ordering.
func (b *Buffer) PutInt32Volatile(offset int, v int32) {
	atomic.StoreInt32(b.ptr32(offset), v)
}

// --- 64-bit access ---

// GetInt64 performs a plain (non-atomic) read.
func (b *Buffer) GetInt64(offset int) int64 {
	return *b.ptr64(offset)
}

// GetInt64Volatile performs a sequentially consistent read.
func (b *Buffer) GetInt64Volatile(offset int) int64 {
	return atomic.LoadInt64(b.ptr64(offset))
}

// GetInt64Acquire must be paired with PutInt64Release/PutInt64Ordered.
func (b *Buffer) GetInt64Acquire(offset int) int64 {
	return atomic.LoadInt64(b.ptr64(offset))
}

// GetInt64Opaque performs a single-copy atomic read with no ordering.
func (b *Buffer) GetInt64Opaque(offset int) int64 {
	return atomic.LoadInt64(b.ptr64(offset))
}

// PutInt64 performs a plain (non-atomic) write.
func (b *Buffer) PutInt64(offset int, v int64) {
	*b.ptr64(offset) = v
}

// PutInt64Ordered is an alias for PutInt64Release.
func (b *Buffer) PutInt64Ordered(offset int, v int64) {
	b.PutInt64Release(offset, v)
}

// PutInt64Release publishes v for a matching GetInt64Acquire.
func (b *Buffer) PutInt64Release(offset int, v int64) {
	atomic.StoreInt64(b.ptr64(offset), v)
}

// PutInt64Opaque stores v as a single-copy atomic write with no
// ordering guarantee.
func (b *Buffer) PutInt64Opaque(offset int, v int64) {
	atomic.StoreInt64(b.ptr64(offset), v)
}

// PutInt64Volatile stores v with sequentially consistent ordering.
func (b *Buffer) PutInt64Volatile(offset int, v int64) {
	atomic.StoreInt64(b.ptr64(offset), v)
}

// CompareAndSetInt64 is a strong CAS: it never fails spuriously.
func (b *Buffer) CompareAndSetInt64(offset int, expect, update int64) bool {
	return atomic.CompareAndSwapInt64(b.ptr64(offset), expect, update)
}

// GetAndAddInt64 atomically adds delta and returns the prior value.
func (b *Buffer) GetAndAddInt64(offset int, delta int64) int64 {
	p := b.ptr64(offset)
	for {
		old := atomic.LoadInt64(p)
		if atomic.CompareAndSwapInt64(p, old, old+delta) {
			return old
		}
	}
}

// GetAndSetInt64 atomically stores v and returns the prior value.
func (b *Buffer) GetAndSetInt64(offset int, v int64) int64 {
	return atomic.SwapInt64(b.ptr64(offset), v)
}

// --- bulk operations ---

// PutBytes copies length bytes from src[srcOffset:srcOffset+length] into
// this buffer at dstOffset. It carries no ordering guarantee; callers
// publish visibility separately (typically via a trailing
// PutInt32Release of a record's length field).
func (b *Buffer) PutBytes(dstOffset int, src []byte, srcOffset, length int) {
	b.mustCheckBounds(dstOffset, length)
	if srcOffset < 0 || length < 0 || srcOffset+length > len(src) {
		panic(cerrors.New(cerrors.BoundsCheck, "source slice out of range"))
	}
	copy(b.data[dstOffset:dstOffset+length], src[srcOffset:srcOffset+length])
}

// GetBytes copies length bytes starting at offset into dst.
func (b *Buffer) GetBytes(offset int, dst []byte, dstOffset, length int) {
	b.mustCheckBounds(offset, length)
	if dstOffset < 0 || length < 0 || dstOffset+length > len(dst) {
		panic(cerrors.New(cerrors.BoundsCheck, "destination slice out of range"))
	}
	copy(dst[dstOffset:dstOffset+length], b.data[offset:offset+length])
}

// SetMemory fills length bytes starting at offset with value.
func (b *Buffer) SetMemory(offset, length int, value byte) {
	b.mustCheckBounds(offset, length)
	region := b.data[offset : offset+length]
	for i := range region {
		region[i] = value
	}
}
