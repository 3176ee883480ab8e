// mpsc.go: multi-producer / single-consumer ring buffer
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ringbuffer

import (
	"github.com/agilira/concord/internal/cerrors"
	"github.com/agilira/concord/internal/membuf"
	"github.com/agilira/concord/internal/recorddescriptor"
)

// MinCapacityMPSC is the smallest data-region size (bytes) NewMPSC
// accepts.
const MinCapacityMPSC = 8

// MPSC is a lock-free, multi-producer/single-consumer ring buffer.
// Any number of producer goroutines (or processes) may call Write,
// TryClaim, Commit and Abort concurrently; exactly one consumer
// goroutine may call Read, ControlledRead and Unblock.
//
// Grounded on the teacher's ringBuffer/MPSCConsumer in buffer.go: a
// CAS-guarded tail reservation, generalized here from "push a []byte
// onto an atomic-pointer slot" to "reserve and publish a wire-format
// record with padding and crash recovery", per recorddescriptor.
type MPSC struct {
	core
}

// NewMPSC wraps buf as an MPSC ring buffer. buf's length must equal the
// desired data capacity (a power of two, at least MinCapacityMPSC) plus
// TrailerLength.
func NewMPSC(buf *membuf.Buffer) (*MPSC, error) {
	c, err := newCore(buf, MinCapacityMPSC)
	if err != nil {
		return nil, err
	}
	return &MPSC{core: *c}, nil
}

// reserve claims `required` bytes starting at the current tail via CAS,
// refreshing the producer-private head cache on the slow path. It
// returns the record's starting index and any padding index/length that
// must be written first.
func (r *MPSC) reserve(required int32) (recordIndex, paddingIndex, paddingLength int32, ok bool) {
	for {
		tail := r.rawTailVolatile()
		headCache := r.rawHeadCacheVolatile()
		used := tail - headCache

		if int64(r.capacity)-used < int64(required) {
			head := r.rawHeadVolatile()
			if int64(r.capacity)-(tail-head) < int64(required) {
				return 0, 0, 0, false
			}
			r.storeHeadCacheRelease(head)
		}

		writeIndex, padding, recIndex := r.computeLayout(tail, required)
		if padding > 0 {
			head := r.rawHeadVolatile()
			if r.wrapIndexOverrun(head, required) {
				return 0, 0, 0, false
			}
			r.storeHeadCacheRelease(head)
		}
		advance := int64(required) + int64(padding)

		if r.buf.CompareAndSetInt64(r.trailerOffset(TailPositionOffset), tail, tail+advance) {
			if padding > 0 {
				return recIndex, writeIndex, padding, true
			}
			return recIndex, -1, 0, true
		}
		// CAS lost the race against another producer; retry.
	}
}

// Write copies src as a single new record of typeId. It returns false
// (with a nil error) if there is not enough space; no partial write
// occurs in that case.
func (r *MPSC) Write(typeID int32, src []byte) (bool, error) {
	if err := recorddescriptor.CheckTypeID(typeID); err != nil {
		return false, err
	}
	if err := recorddescriptor.CheckMsgLength(int32(len(src)), r.maxMsgLength); err != nil {
		return false, err
	}

	length := int32(len(src)) + recorddescriptor.HeaderLength
	required := recorddescriptor.AlignedLength(length)

	recordIndex, paddingIndex, paddingLength, ok := r.reserve(required)
	if !ok {
		return false, nil
	}

	if paddingIndex >= 0 {
		r.writePaddingRecord(paddingIndex, paddingLength)
	}

	r.writeRecordHeaderReserved(recordIndex, length)
	r.writeRecordType(recordIndex, typeID)
	r.buf.PutBytes(int(recorddescriptor.EncodedMsgOffset(recordIndex)), src, 0, len(src))
	r.publishRecord(recordIndex, length)
	return true, nil
}

// TryClaim reserves space for a length-byte payload of the given type
// and returns the byte offset (into the data region) where the caller
// may write it directly. The caller must follow up with Commit or
// Abort using the same index. Returns InsufficientCapacity if there is
// no room.
func (r *MPSC) TryClaim(typeID int32, length int32) (int32, error) {
	if err := recorddescriptor.CheckTypeID(typeID); err != nil {
		return 0, err
	}
	if err := recorddescriptor.CheckMsgLength(length, r.maxMsgLength); err != nil {
		return 0, err
	}

	recordLen := length + recorddescriptor.HeaderLength
	required := recorddescriptor.AlignedLength(recordLen)

	recordIndex, paddingIndex, paddingLength, ok := r.reserve(required)
	if !ok {
		return InsufficientCapacity, nil
	}

	if paddingIndex >= 0 {
		r.writePaddingRecord(paddingIndex, paddingLength)
	}

	r.writeRecordHeaderReserved(recordIndex, recordLen)
	r.writeRecordType(recordIndex, typeID)
	return recorddescriptor.EncodedMsgOffset(recordIndex), nil
}

// Commit publishes the record claimed at index (as returned by
// TryClaim), inverting its reservation marker to a positive length.
func (r *MPSC) Commit(index int32) error {
	recordIndex := index - recorddescriptor.HeaderLength
	lenOffset := int(recorddescriptor.LengthOffset(recordIndex))
	length := r.buf.GetInt32(lenOffset)
	if length >= 0 {
		return cerrors.New(cerrors.StateProtocol, "record already committed")
	}
	r.buf.PutInt32Release(lenOffset, -length)
	return nil
}

// Abort rewrites the record claimed at index into a padding record,
// discarding it silently from the consumer's point of view.
func (r *MPSC) Abort(index int32) error {
	recordIndex := index - recorddescriptor.HeaderLength
	lenOffset := int(recorddescriptor.LengthOffset(recordIndex))
	typeOffset := int(recorddescriptor.TypeOffset(recordIndex))

	length := r.buf.GetInt32(lenOffset)
	if length >= 0 {
		return cerrors.New(cerrors.StateProtocol, "record already committed")
	}
	if r.buf.GetInt32(typeOffset) == recorddescriptor.PaddingMsgTypeID {
		return cerrors.New(cerrors.StateProtocol, "record already aborted")
	}
	r.buf.PutInt32(typeOffset, recorddescriptor.PaddingMsgTypeID)
	r.buf.PutInt32Release(lenOffset, -length)
	return nil
}

// Read drains up to limit completed records, invoking handler for each.
// Consumed bytes are zeroed before the head advances, so a subsequent
// Unblock scan of an abandoned cell observes zeros rather than stale
// data.
func (r *MPSC) Read(handler Handler, limit int) (int, error) {
	return r.core.read(handler, limit, true)
}

// ControlledRead drains records, letting handler decide per record
// whether to abort, continue, or commit the consumer position
// immediately.
func (r *MPSC) ControlledRead(handler ControlledHandler, limit int) (int, error) {
	return r.core.controlledRead(handler, limit)
}

// Unblock repairs a stalled reservation left behind by a producer that
// claimed space (wrote a negative length header) and then died before
// publishing it. It returns true if it made progress (the stall was
// real and has been closed), false if there was nothing to do.
func (r *MPSC) Unblock() bool {
	head := r.rawHeadVolatile()
	tail := r.rawTailVolatile()
	if head >= tail {
		return false
	}

	index := r.index(head)
	lenOffset := int(recorddescriptor.LengthOffset(index))
	typeOffset := int(recorddescriptor.TypeOffset(index))
	length := r.buf.GetInt32Acquire(lenOffset)

	if length < 0 {
		// Reservation abandoned mid-write: close it off as padding so
		// the consumer can skip it.
		r.buf.PutInt32(typeOffset, recorddescriptor.PaddingMsgTypeID)
		r.buf.PutInt32Release(lenOffset, -length)
		return true
	}

	if length == 0 {
		// Scan forward for the next non-zero length, in case a slot was
		// zeroed by a prior consumer pass but the tail has already moved
		// past it without a header ever being written there (a stall
		// between the tail CAS and the header write).
		scan := index
		limitBytes := int32(tail - head)
		scanned := int32(0)
		for scanned < limitBytes {
			l := r.buf.GetInt32Acquire(int(recorddescriptor.LengthOffset(scan)))
			if l != 0 {
				if l < 0 {
					return false // producer is actively writing; not a stall
				}
				break
			}
			scan = (scan + recorddescriptor.AlignmentBytes) & r.mask
			scanned += recorddescriptor.AlignmentBytes
		}
		if scanned == 0 || scanned >= limitBytes {
			return false
		}
		r.writePaddingRecord(index, scanned)
		return true
	}

	return false
}
