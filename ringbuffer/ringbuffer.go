// ringbuffer.go: shared layout and read-side protocol for the MPSC/SPSC
// lock-free ring buffers
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package ringbuffer implements the multi-producer/single-consumer and
// single-producer/single-consumer lock-free ring buffers used to pass
// discrete, type-tagged binary messages through a shared membuf.Buffer.
//
// Grounded on the teacher's buffer.go ringBuffer/MPSCConsumer (a CAS-tail,
// atomic-pointer MPSC queue for log-line batching), generalized from
// "queue of []byte" to "wire-compatible record stream with claim/commit/
// abort and crash recovery", per the record layout in recorddescriptor.
package ringbuffer

import (
	"github.com/agilira/concord/internal/cerrors"
	"github.com/agilira/concord/internal/membuf"
	"github.com/agilira/concord/internal/recorddescriptor"
)

// CacheLine is the assumed CPU cache line size; every hot trailer field
// is placed on its own line to avoid false sharing.
const CacheLine = 64

// Trailer field offsets, relative to the start of the trailer region
// (which itself sits immediately after the power-of-two data region).
const (
	TailPositionOffset       = 0
	HeadCachePositionOffset  = CacheLine
	HeadPositionOffset       = 2 * CacheLine
	CorrelationCounterOffset = 3 * CacheLine
	ConsumerHeartbeatOffset  = 4 * CacheLine

	// TrailerLength is the total trailer size in bytes.
	TrailerLength = 5 * CacheLine
)

// InsufficientCapacity is returned by TryClaim when no space is
// available for the requested record.
const InsufficientCapacity int32 = -2

// Handler processes one delivered record during Read.
type Handler func(typeID int32, payload []byte) error

// Action is the three-valued outcome a ControlledHandler returns.
type Action int

const (
	// ActionAbort stops the read and does not advance past this record.
	ActionAbort Action = iota
	// ActionContinue behaves like a plain Read: advance and keep going.
	ActionContinue
	// ActionCommit advances the consumer position up to and including
	// this record immediately, then continues.
	ActionCommit
)

// ControlledHandler processes one delivered record during ControlledRead
// and decides how the consumer position should advance.
type ControlledHandler func(typeID int32, payload []byte) Action

// core holds the state and offset math shared by the MPSC and SPSC
// variants: capacity validation, trailer field access, and the
// consumer-side read/controlledRead walk. Producer-side reservation
// (CAS vs plain tail advance) is variant-specific and lives in mpsc.go
// and spsc.go.
type core struct {
	buf          *membuf.Buffer
	capacity     int32
	mask         int32
	maxMsgLength int32
	trailerBase  int
}

func newCore(buf *membuf.Buffer, minCapacity int32) (*core, error) {
	total := buf.Len()
	capacity := int32(total - TrailerLength)
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, cerrors.New(cerrors.CapacityShape, "ring buffer capacity must be a power of two")
	}
	if capacity < minCapacity {
		return nil, cerrors.New(cerrors.CapacityShape, "ring buffer capacity below component minimum")
	}
	maxMsgLength := capacity / 8
	if maxMsgLength < recorddescriptor.HeaderLength {
		maxMsgLength = recorddescriptor.HeaderLength
	}
	return &core{
		buf:          buf,
		capacity:     capacity,
		mask:         capacity - 1,
		maxMsgLength: maxMsgLength,
		trailerBase:  int(capacity),
	}, nil
}

// Capacity returns the data region size in bytes.
func (c *core) Capacity() int32 { return c.capacity }

// MaxMsgLength returns the largest payload (excluding header) a single
// record may carry.
func (c *core) MaxMsgLength() int32 { return c.maxMsgLength }

func (c *core) trailerOffset(field int) int { return c.trailerBase + field }

func (c *core) rawTailVolatile() int64 {
	return c.buf.GetInt64Volatile(c.trailerOffset(TailPositionOffset))
}

func (c *core) rawHeadCacheVolatile() int64 {
	return c.buf.GetInt64Volatile(c.trailerOffset(HeadCachePositionOffset))
}

func (c *core) storeHeadCacheRelease(v int64) {
	c.buf.PutInt64Release(c.trailerOffset(HeadCachePositionOffset), v)
}

func (c *core) rawHeadVolatile() int64 {
	return c.buf.GetInt64Volatile(c.trailerOffset(HeadPositionOffset))
}

func (c *core) storeHeadRelease(v int64) {
	c.buf.PutInt64Release(c.trailerOffset(HeadPositionOffset), v)
}

// ProducerPosition is a volatile read of the absolute tail position.
func (c *core) ProducerPosition() int64 { return c.rawTailVolatile() }

// ConsumerPosition is a volatile read of the absolute head position.
func (c *core) ConsumerPosition() int64 { return c.rawHeadVolatile() }

// Size returns producerPosition - consumerPosition.
func (c *core) Size() int64 {
	head := c.rawHeadVolatile()
	tail := c.rawTailVolatile()
	size := tail - head
	if size < 0 {
		return 0
	}
	if size > int64(c.capacity) {
		return int64(c.capacity)
	}
	return size
}

// NextCorrelationID atomically increments and returns the trailer's
// correlation counter.
func (c *core) NextCorrelationID() int64 {
	return c.buf.GetAndAddInt64(c.trailerOffset(CorrelationCounterOffset), 1) + 1
}

// ConsumerHeartbeat reads the consumer liveness timestamp the trailer
// carries.
func (c *core) ConsumerHeartbeat() int64 {
	return c.buf.GetInt64Volatile(c.trailerOffset(ConsumerHeartbeatOffset))
}

// SetConsumerHeartbeat publishes the consumer liveness timestamp.
func (c *core) SetConsumerHeartbeat(v int64) {
	c.buf.PutInt64Volatile(c.trailerOffset(ConsumerHeartbeatOffset), v)
}

func (c *core) index(position int64) int32 {
	return int32(position&int64(c.mask)) & 0x7fffffff
}

// computeLayout decides where a reservation of required bytes starting
// at absolute position tail must land: if it would overrun the end of
// the data region, a padding record of the remaining bytes is inserted
// at writeIndex and the real record starts at index 0; otherwise the
// real record starts at writeIndex directly and no padding is needed.
func (c *core) computeLayout(tail int64, required int32) (writeIndex, padding, recordIndex int32) {
	writeIndex = c.index(tail)
	if writeIndex+required > c.capacity {
		padding = c.capacity - writeIndex
		recordIndex = 0
		return
	}
	recordIndex = writeIndex
	return
}

// wrapIndexOverrun reports whether a wrapping reservation of required
// bytes at offset 0 would run past the unread region between index 0
// and head's index within the buffer, corrupting records the consumer
// has not read yet. The count-based check in reserve (capacity -
// (tail-head) >= required) is not sufficient on its own: it proves
// there is enough total free space, but a wrap writes at offset 0
// regardless of where that free space actually sits, so it must also
// stay clear of [0, head&mask). Mirrors Agrona's ManyToOneRingBuffer /
// OneToOneRingBuffer claimCapacity wrap check.
func (c *core) wrapIndexOverrun(head int64, required int32) bool {
	return required > c.index(head)
}

func (c *core) writePaddingRecord(index, paddingLength int32) {
	lenOff := int(recorddescriptor.LengthOffset(index))
	typeOff := int(recorddescriptor.TypeOffset(index))
	c.buf.PutInt32(typeOff, recorddescriptor.PaddingMsgTypeID)
	c.buf.PutInt32Release(lenOff, paddingLength)
}

func (c *core) writeRecordHeaderReserved(index, length int32) {
	lenOff := int(recorddescriptor.LengthOffset(index))
	c.buf.PutInt32Release(lenOff, -length)
}

func (c *core) writeRecordType(index, typeID int32) {
	typeOff := int(recorddescriptor.TypeOffset(index))
	c.buf.PutInt32(typeOff, typeID)
}

func (c *core) publishRecord(index, length int32) {
	lenOff := int(recorddescriptor.LengthOffset(index))
	c.buf.PutInt32Release(lenOff, length)
}

func (c *core) zeroRange(from, length int32) {
	if length <= 0 {
		return
	}
	c.buf.SetMemory(int(from), int(length), 0)
}

// --- consumer-side read protocol, shared by MPSC and SPSC ---

// read drains up to limit completed records starting at the current
// head, invoking handler for each non-padding record. zeroFill controls
// whether consumed bytes are zeroed before head is advanced (MPSC only,
// so Unblock sees zeros in abandoned cells). It returns the number of
// records delivered to handler.
//
// On handler error, head is still advanced past every record already
// delivered, including the failing one, and the error is returned to
// the caller after that advance.
func (c *core) read(handler Handler, limit int, zeroFill bool) (int, error) {
	head := c.rawHeadVolatile()
	bytesConsumed := int32(0)
	messagesRead := 0
	var handlerErr error

loop:
	for messagesRead < limit {
		index := c.index(head + int64(bytesConsumed))
		length := c.buf.GetInt32Acquire(int(recorddescriptor.LengthOffset(index)))
		if length <= 0 {
			break
		}
		recordLength := recorddescriptor.AlignedLength(length)
		typeID := c.buf.GetInt32(int(recorddescriptor.TypeOffset(index)))
		if typeID != recorddescriptor.PaddingMsgTypeID {
			payloadOffset := int(recorddescriptor.EncodedMsgOffset(index))
			payloadLen := int(length) - recorddescriptor.HeaderLength
			payload := c.buf.Bytes()[payloadOffset : payloadOffset+payloadLen]
			if err := handler(typeID, payload); err != nil {
				bytesConsumed += recordLength
				messagesRead++
				handlerErr = err
				break loop
			}
			messagesRead++
		}
		bytesConsumed += recordLength
	}

	if bytesConsumed > 0 {
		if zeroFill {
			c.zeroConsumedSpan(head, bytesConsumed)
		}
		c.storeHeadRelease(head + int64(bytesConsumed))
	}
	return messagesRead, handlerErr
}

func (c *core) zeroConsumedSpan(head int64, length int32) {
	start := c.index(head)
	remaining := length
	for remaining > 0 {
		chunk := c.capacity - start
		if chunk > remaining {
			chunk = remaining
		}
		c.zeroRange(start, chunk)
		remaining -= chunk
		start = 0
	}
}

// controlledRead is like read, but the handler's Action decides how far
// the consumer position advances.
func (c *core) controlledRead(handler ControlledHandler, limit int) (int, error) {
	head := c.rawHeadVolatile()
	position := head
	committedThrough := head
	messagesRead := 0

	for messagesRead < limit {
		index := c.index(position)
		length := c.buf.GetInt32Acquire(int(recorddescriptor.LengthOffset(index)))
		if length <= 0 {
			break
		}
		recordLength := recorddescriptor.AlignedLength(length)
		typeID := c.buf.GetInt32(int(recorddescriptor.TypeOffset(index)))

		if typeID == recorddescriptor.PaddingMsgTypeID {
			position += int64(recordLength)
			committedThrough = position
			continue
		}

		payloadOffset := int(recorddescriptor.EncodedMsgOffset(index))
		payloadLen := int(length) - recorddescriptor.HeaderLength
		payload := c.buf.Bytes()[payloadOffset : payloadOffset+payloadLen]
		action := handler(typeID, payload)

		switch action {
		case ActionAbort:
			if position > head {
				c.storeHeadRelease(position)
			}
			return messagesRead, nil
		case ActionCommit:
			position += int64(recordLength)
			messagesRead++
			committedThrough = position
			c.storeHeadRelease(committedThrough)
		default: // ActionContinue
			position += int64(recordLength)
			messagesRead++
		}
	}

	if committedThrough < position {
		committedThrough = position
	}
	if committedThrough > head {
		c.storeHeadRelease(committedThrough)
	}
	return messagesRead, nil
}
