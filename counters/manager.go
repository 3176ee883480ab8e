// manager.go: single-allocator counters store
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package counters

import (
	"github.com/agilira/concord/epochclock"
	"github.com/agilira/concord/internal/cerrors"
	"github.com/agilira/concord/internal/membuf"
)

// Manager allocates, frees, and scans counters over a metadata buffer
// paired with a values buffer. Allocation and free are not safe for
// concurrent callers from the same process; wrap a Manager in a
// ConcurrentManager for that. Scanning (ForEachAllocated and the
// GetCounter* readers) is always lock-free and safe to call from any
// number of goroutines or processes, including while an allocator is
// mutating records elsewhere.
type Manager struct {
	metadata *membuf.Buffer
	values   *membuf.Buffer

	clock                epochclock.EpochClock
	freeToReuseTimeoutMs int64

	idHighWaterMark int64
	freeList        []int32
}

// NewManager validates and wraps metadata/values buffers as a counters
// store. clock defaults to epochclock.ZeroClock() when nil; with that
// clock a freed id is reusable at once if freeToReuseTimeoutMs is 0 and
// never if it is positive.
func NewManager(metadata, values *membuf.Buffer, clock epochclock.EpochClock, freeToReuseTimeoutMs int64) (*Manager, error) {
	if metadata.Len() < 2*values.Len() {
		return nil, cerrors.New(cerrors.CapacityShape, "metadata capacity must be at least twice the values capacity")
	}
	if clock == nil {
		clock = epochclock.ZeroClock()
	}
	return &Manager{
		metadata:             metadata,
		values:               values,
		clock:                clock,
		freeToReuseTimeoutMs: freeToReuseTimeoutMs,
		idHighWaterMark:      -1,
	}, nil
}

// maxCounterID is the highest id ForEachAllocated/Read* may address: the
// values-region bound spec.md §3.2 names, clamped to what the metadata
// region can actually back, so a scan never reads past either buffer's
// capacity even when metadataCapacity is only just large enough to
// satisfy the 2x invariant.
func (m *Manager) maxCounterID() int32 {
	fromValues := int32(m.values.Len())/CounterLength - 1
	fromMetadata := int32(m.metadata.Len())/MetadataLength - 1
	if fromMetadata < fromValues {
		return fromMetadata
	}
	return fromValues
}

// nextCounterID returns the first free-list id whose deadline has
// passed (insertion order), zeroing its value slot before reuse; if
// none qualifies, it mints a fresh id past the high-water mark.
func (m *Manager) nextCounterID() int32 {
	now := m.clock.Time()
	for i, id := range m.freeList {
		deadline := m.metadata.GetInt64Acquire(metadataOffset(id) + freeForReuseDeadlineOffset)
		if now >= deadline {
			m.freeList = append(m.freeList[:i], m.freeList[i+1:]...)
			m.values.PutInt64Ordered(valueRecordOffset(id)+valueOffset, 0)
			return id
		}
	}
	m.idHighWaterMark++
	return int32(m.idHighWaterMark)
}

func (m *Manager) pushFree(id int32) {
	m.freeList = append(m.freeList, id)
}

// Allocate reserves a new counter, publishing typeID, an optional key,
// and label, and returns its id. Key may be nil; it must not exceed
// MaxKeyLength. Label must not exceed MaxLabelLength.
func (m *Manager) Allocate(label string, typeID int32, key []byte) (int32, error) {
	if len(key) > MaxKeyLength {
		return 0, cerrors.New(cerrors.ArgBounds, "key exceeds MaxKeyLength")
	}
	if len(label) > MaxLabelLength {
		return 0, cerrors.New(cerrors.ArgBounds, "label exceeds MaxLabelLength")
	}

	id := m.nextCounterID()

	metaOff := metadataOffset(id)
	valOff := valueRecordOffset(id)
	if err := m.checkCapacity(metaOff, valOff); err != nil {
		m.pushFree(id)
		return 0, err
	}

	m.metadata.PutInt32(metaOff+typeIDOffset, typeID)
	if len(key) > 0 {
		m.metadata.PutBytes(metaOff+keyOffset, key, 0, len(key))
	}
	m.metadata.PutInt64(metaOff+freeForReuseDeadlineOffset, NotFreeToReuse)

	labelBytes := []byte(label)
	if len(labelBytes) > 0 {
		m.metadata.PutBytes(metaOff+labelOffset, labelBytes, 0, len(labelBytes))
	}
	m.metadata.PutInt32Release(metaOff+labelLengthOffset, int32(len(labelBytes)))

	m.metadata.PutInt32Release(metaOff+stateOffset, int32(Allocated))

	_ = valOff
	return id, nil
}

func (m *Manager) checkCapacity(metaOff, valOff int) error {
	if metaOff+MetadataLength > m.metadata.Len() {
		return cerrors.New(cerrors.StateCapacity, "counters metadata region exhausted")
	}
	if valOff+CounterLength > m.values.Len() {
		return cerrors.New(cerrors.StateCapacity, "counters values region exhausted")
	}
	return nil
}

// Free reclaims id: it is marked RECLAIMED immediately, its key is
// zeroed, and it becomes eligible for reuse only once now >=
// freeForReuseDeadline (now + freeToReuseTimeoutMs).
func (m *Manager) Free(id int32) {
	metaOff := metadataOffset(id)
	m.metadata.PutInt32Release(metaOff+stateOffset, int32(Reclaimed))
	m.metadata.SetMemory(metaOff+keyOffset, MaxKeyLength, 0)
	m.metadata.PutInt64(metaOff+freeForReuseDeadlineOffset, m.clock.Time()+m.freeToReuseTimeoutMs)
	m.pushFree(id)
}

// SetCounterLabel rewrites id's label.
func (m *Manager) SetCounterLabel(id int32, text string) error {
	if len(text) > MaxLabelLength {
		return cerrors.New(cerrors.ArgBounds, "label exceeds MaxLabelLength")
	}
	metaOff := metadataOffset(id)
	b := []byte(text)
	if len(b) > 0 {
		m.metadata.PutBytes(metaOff+labelOffset, b, 0, len(b))
	}
	m.metadata.PutInt32Release(metaOff+labelLengthOffset, int32(len(b)))
	return nil
}

// AppendToLabel appends suffix to id's current label, clamping to
// MaxLabelLength, and republishes the new length.
func (m *Manager) AppendToLabel(id int32, suffix string) error {
	metaOff := metadataOffset(id)
	existing := m.metadata.GetInt32(metaOff + labelLengthOffset)
	b := []byte(suffix)

	room := int32(MaxLabelLength) - existing
	if room <= 0 {
		return nil
	}
	if int32(len(b)) > room {
		b = b[:room]
	}
	m.metadata.PutBytes(metaOff+labelOffset+int(existing), b, 0, len(b))
	m.metadata.PutInt32Release(metaOff+labelLengthOffset, existing+int32(len(b)))
	return nil
}

// Record is a read-only snapshot of one allocated counter, produced by
// ForEachAllocated.
type Record struct {
	ID    int32
	TypeID int32
	Key   []byte
	Label string
	Value int64
}

// ForEachAllocated scans metadata records in stride order from id 0,
// invoking fn for each ALLOCATED record, skipping RECLAIMED ones, and
// stopping at the first UNUSED record (the allocated prefix never has
// UNUSED holes). Safe to call concurrently with an allocator; fn may
// observe a record mid-free (RECLAIMED) or not yet see a record just
// allocated, but never a torn one.
func (m *Manager) ForEachAllocated(fn func(Record) error) error {
	maxID := m.maxCounterID()
	for id := int32(0); id <= maxID; id++ {
		metaOff := metadataOffset(id)
		state := State(m.metadata.GetInt32Acquire(metaOff + stateOffset))
		switch state {
		case Unused:
			return nil
		case Reclaimed:
			continue
		case Allocated:
			rec := Record{
				ID:     id,
				TypeID: m.metadata.GetInt32(metaOff + typeIDOffset),
				Label:  m.GetCounterLabel(id),
				Value:  m.GetCounterValue(id),
			}
			key := make([]byte, MaxKeyLength)
			m.metadata.GetBytes(metaOff+keyOffset, key, 0, MaxKeyLength)
			rec.Key = key
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetCounterValue performs a volatile read of id's value slot.
func (m *Manager) GetCounterValue(id int32) int64 {
	return m.values.GetInt64Volatile(valueRecordOffset(id) + valueOffset)
}

// GetCounterState performs an acquire read of id's state field.
func (m *Manager) GetCounterState(id int32) State {
	return State(m.metadata.GetInt32Acquire(metadataOffset(id) + stateOffset))
}

// GetCounterTypeID reads id's typeId.
func (m *Manager) GetCounterTypeID(id int32) int32 {
	return m.metadata.GetInt32(metadataOffset(id) + typeIDOffset)
}

// GetFreeForReuseDeadline reads id's quarantine deadline.
func (m *Manager) GetFreeForReuseDeadline(id int32) int64 {
	return m.metadata.GetInt64Acquire(metadataOffset(id) + freeForReuseDeadlineOffset)
}

// GetCounterLabel reads id's current label.
func (m *Manager) GetCounterLabel(id int32) string {
	metaOff := metadataOffset(id)
	length := m.metadata.GetInt32Acquire(metaOff + labelLengthOffset)
	if length <= 0 {
		return ""
	}
	b := make([]byte, length)
	m.metadata.GetBytes(metaOff+labelOffset, b, 0, int(length))
	return string(b)
}

// GetCounterKey reads id's raw key bytes (MaxKeyLength wide; unused
// trailing bytes are zero).
func (m *Manager) GetCounterKey(id int32) []byte {
	key := make([]byte, MaxKeyLength)
	m.metadata.GetBytes(metadataOffset(id)+keyOffset, key, 0, MaxKeyLength)
	return key
}

// FindByRegistrationID linearly scans allocated counters for the first
// whose registration-id value slot field equals registrationID.
func (m *Manager) FindByRegistrationID(registrationID int64) (int32, bool) {
	found := int32(-1)
	_ = m.ForEachAllocated(func(r Record) error {
		if m.values.GetInt64Volatile(valueRecordOffset(r.ID)+registrationIDOffset) == registrationID {
			found = r.ID
			return errStopScan
		}
		return nil
	})
	return found, found >= 0
}

// FindByTypeIDAndRegistrationID is FindByRegistrationID additionally
// filtered by typeId.
func (m *Manager) FindByTypeIDAndRegistrationID(typeID int32, registrationID int64) (int32, bool) {
	found := int32(-1)
	_ = m.ForEachAllocated(func(r Record) error {
		if r.TypeID != typeID {
			return nil
		}
		if m.values.GetInt64Volatile(valueRecordOffset(r.ID)+registrationIDOffset) == registrationID {
			found = r.ID
			return errStopScan
		}
		return nil
	})
	return found, found >= 0
}

// errStopScan is a sentinel used internally to end a ForEachAllocated
// walk early; it never escapes this package.
var errStopScan = stopScan{}

type stopScan struct{}

func (stopScan) Error() string { return "stop scan" }
