package counters

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	"github.com/agilira/concord/epochclock"
	"github.com/agilira/concord/internal/cerrors"
	"github.com/agilira/concord/internal/membuf"
)

// alignedBuffer returns a membuf.Buffer over an 8-byte aligned region
// of the given byte size, sized in whole counter/metadata strides.
func alignedBuffer(t *testing.T, size int) *membuf.Buffer {
	t.Helper()
	words := make([]int64, (size+7)/8)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)[:size]
	return membuf.Wrap(b)
}

func newStore(t *testing.T, numCounters int) (*Manager, *membuf.Buffer, *membuf.Buffer) {
	t.Helper()
	metadata := alignedBuffer(t, numCounters*MetadataLength)
	values := alignedBuffer(t, numCounters*CounterLength)
	mgr, err := NewManager(metadata, values, epochclock.ZeroClock(), 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, metadata, values
}

func TestNewManagerRejectsUndersizedMetadata(t *testing.T) {
	values := alignedBuffer(t, 10*CounterLength)
	metadata := alignedBuffer(t, CounterLength) // far less than 2x values
	_, err := NewManager(metadata, values, nil, 0)
	if !errors.Is(err, cerrors.New(cerrors.CapacityShape, "")) {
		t.Fatalf("NewManager = %v, want CapacityShape", err)
	}
}

func TestAllocateAndRead(t *testing.T) {
	mgr, _, _ := newStore(t, 4)

	id, err := mgr.Allocate("requests", 7, []byte("key-a"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id != 0 {
		t.Fatalf("first allocated id = %d, want 0", id)
	}
	if state := mgr.GetCounterState(id); state != Allocated {
		t.Fatalf("GetCounterState = %v, want Allocated", state)
	}
	if label := mgr.GetCounterLabel(id); label != "requests" {
		t.Fatalf("GetCounterLabel = %q, want %q", label, "requests")
	}
	if typeID := mgr.GetCounterTypeID(id); typeID != 7 {
		t.Fatalf("GetCounterTypeID = %d, want 7", typeID)
	}
	if deadline := mgr.GetFreeForReuseDeadline(id); deadline != NotFreeToReuse {
		t.Fatalf("GetFreeForReuseDeadline = %d, want NotFreeToReuse", deadline)
	}
}

func TestAllocateRejectsOversizedKeyOrLabel(t *testing.T) {
	mgr, _, _ := newStore(t, 2)

	oversizedKey := make([]byte, MaxKeyLength+1)
	if _, err := mgr.Allocate("x", 1, oversizedKey); !errors.Is(err, cerrors.New(cerrors.ArgBounds, "")) {
		t.Fatalf("Allocate with oversized key = %v, want ArgBounds", err)
	}

	oversizedLabel := make([]byte, MaxLabelLength+1)
	if _, err := mgr.Allocate(string(oversizedLabel), 1, nil); !errors.Is(err, cerrors.New(cerrors.ArgBounds, "")) {
		t.Fatalf("Allocate with oversized label = %v, want ArgBounds", err)
	}
}

func TestAllocateExhaustsCapacity(t *testing.T) {
	mgr, _, _ := newStore(t, 2)

	if _, err := mgr.Allocate("a", 1, nil); err != nil {
		t.Fatalf("Allocate 0: %v", err)
	}
	if _, err := mgr.Allocate("b", 1, nil); err != nil {
		t.Fatalf("Allocate 1: %v", err)
	}
	if _, err := mgr.Allocate("c", 1, nil); !errors.Is(err, cerrors.New(cerrors.StateCapacity, "")) {
		t.Fatalf("Allocate beyond capacity = %v, want StateCapacity", err)
	}
}

func TestFreeThenReallocateRespectsQuarantine(t *testing.T) {
	mgr, _, _ := newStore(t, 2)
	mgr.freeToReuseTimeoutMs = 1000

	id, _ := mgr.Allocate("a", 1, nil)
	mgr.Free(id)
	if state := mgr.GetCounterState(id); state != Reclaimed {
		t.Fatalf("GetCounterState after Free = %v, want Reclaimed", state)
	}

	// Quarantine still active (ZeroClock never advances past 0, and the
	// deadline was set to 0+1000): a fresh allocation must mint a new id
	// rather than reuse id.
	second, err := mgr.Allocate("b", 1, nil)
	if err != nil {
		t.Fatalf("Allocate after Free: %v", err)
	}
	if second == id {
		t.Fatalf("Allocate reused quarantined id %d before its deadline", id)
	}
}

func TestFreeThenReallocateAfterDeadlineReuses(t *testing.T) {
	mgr, _, _ := newStore(t, 2)
	// freeToReuseTimeoutMs stays 0 and the clock is ZeroClock (always
	// 0), so now (0) >= deadline (0+0) holds immediately.
	id, _ := mgr.Allocate("a", 1, nil)
	mgr.Free(id)

	reused, err := mgr.Allocate("b", 2, nil)
	if err != nil {
		t.Fatalf("Allocate after Free: %v", err)
	}
	if reused != id {
		t.Fatalf("Allocate = %d, want reused id %d", reused, id)
	}
	if got := mgr.GetCounterValue(reused); got != 0 {
		t.Fatalf("reused counter value = %d, want 0 (cleared on reuse)", got)
	}
}

func TestForEachAllocatedSkipsReclaimedStopsAtUnused(t *testing.T) {
	mgr, _, _ := newStore(t, 4)

	a, _ := mgr.Allocate("a", 1, nil)
	_, _ = mgr.Allocate("b", 1, nil)
	c, _ := mgr.Allocate("c", 1, nil)
	mgr.Free(a)

	var seen []int32
	if err := mgr.ForEachAllocated(func(r Record) error {
		seen = append(seen, r.ID)
		return nil
	}); err != nil {
		t.Fatalf("ForEachAllocated: %v", err)
	}

	want := []int32{1, c}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestSetCounterLabelAndAppendToLabel(t *testing.T) {
	mgr, _, _ := newStore(t, 2)
	id, _ := mgr.Allocate("start", 1, nil)

	if err := mgr.SetCounterLabel(id, "replaced"); err != nil {
		t.Fatalf("SetCounterLabel: %v", err)
	}
	if got := mgr.GetCounterLabel(id); got != "replaced" {
		t.Fatalf("GetCounterLabel = %q, want %q", got, "replaced")
	}

	if err := mgr.AppendToLabel(id, "-suffix"); err != nil {
		t.Fatalf("AppendToLabel: %v", err)
	}
	if got := mgr.GetCounterLabel(id); got != "replaced-suffix" {
		t.Fatalf("GetCounterLabel = %q, want %q", got, "replaced-suffix")
	}
}

func TestFindByRegistrationID(t *testing.T) {
	mgr, _, values := newStore(t, 3)

	idA, _ := mgr.Allocate("a", 1, nil)
	idB, _ := mgr.Allocate("b", 9, nil)

	values.PutInt64Volatile(valueRecordOffset(idA)+registrationIDOffset, 111)
	values.PutInt64Volatile(valueRecordOffset(idB)+registrationIDOffset, 222)

	if got, ok := mgr.FindByRegistrationID(222); !ok || got != idB {
		t.Fatalf("FindByRegistrationID(222) = (%d, %v), want (%d, true)", got, ok, idB)
	}
	if _, ok := mgr.FindByRegistrationID(999); ok {
		t.Fatalf("FindByRegistrationID(999) found a match, want none")
	}
	if got, ok := mgr.FindByTypeIDAndRegistrationID(9, 222); !ok || got != idB {
		t.Fatalf("FindByTypeIDAndRegistrationID(9, 222) = (%d, %v), want (%d, true)", got, ok, idB)
	}
	if _, ok := mgr.FindByTypeIDAndRegistrationID(1, 222); ok {
		t.Fatalf("FindByTypeIDAndRegistrationID(1, 222) found a match for the wrong typeId")
	}
}

func TestAtomicCounterOrderingMatrixAndClose(t *testing.T) {
	mgr, _, values := newStore(t, 2)
	id, _ := mgr.Allocate("a", 1, nil)

	c := NewAtomicCounter(values, id, mgr)
	c.Set(5)
	if got := c.Get(); got != 5 {
		t.Fatalf("Get = %d, want 5", got)
	}

	c.SetOrdered(10)
	if got := c.GetAcquire(); got != 10 {
		t.Fatalf("GetAcquire = %d, want 10", got)
	}

	if !c.CompareAndSet(10, 20) {
		t.Fatalf("CompareAndSet(10, 20) should succeed")
	}
	if c.CompareAndSet(10, 30) {
		t.Fatalf("CompareAndSet(10, 30) should fail, value already moved to 20")
	}

	if prior := c.GetAndAdd(5); prior != 20 {
		t.Fatalf("GetAndAdd returned %d, want 20", prior)
	}
	if got := c.GetVolatile(); got != 25 {
		t.Fatalf("GetVolatile = %d, want 25", got)
	}

	if prior := c.GetAndSet(100); prior != 25 {
		t.Fatalf("GetAndSet returned %d, want 25", prior)
	}

	if !c.ProposeMax(150) {
		t.Fatalf("ProposeMax(150) should succeed, current is 100")
	}
	if c.ProposeMax(50) {
		t.Fatalf("ProposeMax(50) should fail, current is already 150")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if state := mgr.GetCounterState(id); state != Reclaimed {
		t.Fatalf("GetCounterState after Close = %v, want Reclaimed", state)
	}
}

func TestConcurrentManagerAllocateFreeUnderContention(t *testing.T) {
	metadata := alignedBuffer(t, 64*MetadataLength)
	values := alignedBuffer(t, 64*CounterLength)
	cm, err := NewConcurrentManager(metadata, values, epochclock.ZeroClock(), 0)
	if err != nil {
		t.Fatalf("NewConcurrentManager: %v", err)
	}

	const goroutines = 16
	ids := make(chan int32, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			id, err := cm.Allocate("worker", int32(n), nil)
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[int32]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d allocated more than once under concurrent Allocate", id)
		}
		seen[id] = true
	}
	if len(seen) != goroutines {
		t.Fatalf("allocated %d distinct ids, want %d", len(seen), goroutines)
	}

	for id := range seen {
		cm.Free(id)
	}

	reader := cm.Reader()
	count := 0
	_ = reader.ForEachAllocated(func(Record) error {
		count++
		return nil
	})
	if count != 0 {
		t.Fatalf("ForEachAllocated after freeing everything found %d records, want 0", count)
	}
}
