// spsc.go: single-producer / single-consumer ring buffer
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

// MinCapacitySPSC is the smallest data-region size (bytes) NewSPSC
// accepts.
const MinCapacitySPSC = 16

// SPSC is a lock-free, single-producer/single-consumer ring buffer.
// Exactly one producer goroutine may call Write/TryClaim/Commit/Abort;
// exactly one consumer goroutine may call Read/ControlledRead. Since
// there is only ever one producer, tail advance is a read followed by
// a release store, with no CAS retry loop.
type SPSC struct {
	core
}

// NewSPSC wraps buf as an SPSC ring buffer. buf's length must equal the
// desired data capacity (a power of two, at least MinCapacitySPSC) plus
// TrailerLength.
func NewSPSC(buf *membuf.Buffer) (*SPSC, error) {
	c, err := newCore(buf, MinCapacitySPSC)
	if err != nil {
		return nil, err
	}
	return &SPSC{core: *c}, nil
}

// reserve claims `required` bytes starting at the current tail. With a
// single producer there is no contention to retry against: the tail is
// only ever advanced by this goroutine.
func (r *SPSC) reserve(required int32) (recordIndex, paddingIndex, paddingLength int32, ok bool) {
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
	r.buf.PutInt64Ordered(r.trailerOffset(TailPositionOffset), tail+advance)

	if padding > 0 {
		return recIndex, writeIndex, padding, true
	}
	return recIndex, -1, 0, true
}

// zeroNextSentinel clears the 8-byte header of the slot immediately
// after a just-published record, so a consumer that races ahead of the
// next Write sees a clean zero length rather than stale data from a
// previous lap around the buffer.
func (r *SPSC) zeroNextSentinel(recordIndex, recordLength int32) {
	next := (recordIndex + recordLength) & r.mask
	r.zeroRange(next, recorddescriptor.HeaderLength)
}

// Write copies src as a single new record of typeId. Returns false if
// there is not enough space.
func (r *SPSC) Write(typeID int32, src []byte) (bool, error) {
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
	r.zeroNextSentinel(recordIndex, required)
	r.publishRecord(recordIndex, length)
	return true, nil
}

// TryClaim reserves space for a length-byte payload and returns the
// byte offset where the caller may write it directly. Follow up with
// Commit or Abort. Returns InsufficientCapacity if there is no room.
func (r *SPSC) TryClaim(typeID int32, length int32) (int32, error) {
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
	r.zeroNextSentinel(recordIndex, required)
	return recorddescriptor.EncodedMsgOffset(recordIndex), nil
}

// Commit publishes the record claimed at index.
func (r *SPSC) Commit(index int32) error {
	recordIndex := index - recorddescriptor.HeaderLength
	lenOffset := int(recorddescriptor.LengthOffset(recordIndex))
	length := r.buf.GetInt32(lenOffset)
	if length >= 0 {
		return cerrors.New(cerrors.StateProtocol, "record already committed")
	}
	r.buf.PutInt32Release(lenOffset, -length)
	return nil
}

// Abort rewrites the record claimed at index into a padding record.
func (r *SPSC) Abort(index int32) error {
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

// Read drains up to limit completed records. SPSC has a single producer
// so there is no Unblock scenario to protect against; consumed bytes
// are not zeroed.
func (r *SPSC) Read(handler Handler, limit int) (int, error) {
	return r.core.read(handler, limit, false)
}

// ControlledRead drains records, letting handler decide per record
// whether to abort, continue, or commit the consumer position
// immediately.
func (r *SPSC) ControlledRead(handler ControlledHandler, limit int) (int, error) {
	return r.core.controlledRead(handler, limit)
}

// Unblock always returns false: with a single producer there is no
// concurrent reservation that could stall independently of that
// producer's own forward progress.
func (r *SPSC) Unblock() bool {
	return false
}
