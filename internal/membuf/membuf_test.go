package membuf

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	"github.com/agilira/concord/internal/cerrors"
)

// newAligned backs a Buffer with an []int64-derived slice so its base
// address is always 8-byte aligned, regardless of where the Go
// allocator happens to place a plain []byte.
func newAligned(t *testing.T, size int) *Buffer {
	t.Helper()
	words := make([]int64, (size+7)/8)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)[:size]
	return Wrap(b)
}

func TestWrapLenBytes(t *testing.T) {
	b := Wrap(make([]byte, 16))
	if b.Len() != 16 {
		t.Fatalf("Len() = %d, want 16", b.Len())
	}
	if len(b.Bytes()) != 16 {
		t.Fatalf("Bytes() length = %d, want 16", len(b.Bytes()))
	}
}

func TestInt32RoundTrip(t *testing.T) {
	b := newAligned(t, 32)
	b.PutInt32(0, 42)
	if got := b.GetInt32(0); got != 42 {
		t.Fatalf("GetInt32 = %d, want 42", got)
	}
	b.PutInt32Release(4, -7)
	if got := b.GetInt32Acquire(4); got != -7 {
		t.Fatalf("GetInt32Acquire = %d, want -7", got)
	}
	b.PutInt32Volatile(8, 100)
	if got := b.GetInt32Volatile(8); got != 100 {
		t.Fatalf("GetInt32Volatile = %d, want 100", got)
	}
	b.PutInt32Opaque(12, 7)
	if got := b.GetInt32Opaque(12); got != 7 {
		t.Fatalf("GetInt32Opaque = %d, want 7", got)
	}
}

func TestInt64RoundTrip(t *testing.T) {
	b := newAligned(t, 32)
	b.PutInt64(0, 1<<40)
	if got := b.GetInt64(0); got != 1<<40 {
		t.Fatalf("GetInt64 = %d, want %d", got, int64(1)<<40)
	}
	b.PutInt64Ordered(8, -1)
	if got := b.GetInt64Acquire(8); got != -1 {
		t.Fatalf("GetInt64Acquire = %d, want -1", got)
	}
}

func TestCompareAndSetInt64(t *testing.T) {
	b := newAligned(t, 16)
	b.PutInt64(0, 5)
	if !b.CompareAndSetInt64(0, 5, 6) {
		t.Fatalf("CompareAndSetInt64 should succeed when expectation matches")
	}
	if b.CompareAndSetInt64(0, 5, 7) {
		t.Fatalf("CompareAndSetInt64 should fail once the value has moved on")
	}
	if got := b.GetInt64(0); got != 6 {
		t.Fatalf("GetInt64 = %d, want 6", got)
	}
}

func TestGetAndAddInt64Concurrent(t *testing.T) {
	b := newAligned(t, 8)
	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				b.GetAndAddInt64(0, 1)
			}
		}()
	}
	wg.Wait()

	if got := b.GetInt64(0); got != goroutines*perGoroutine {
		t.Fatalf("GetInt64 = %d, want %d", got, goroutines*perGoroutine)
	}
}

func TestGetAndSetInt64(t *testing.T) {
	b := newAligned(t, 8)
	b.PutInt64(0, 9)
	if prior := b.GetAndSetInt64(0, 20); prior != 9 {
		t.Fatalf("GetAndSetInt64 returned %d, want 9", prior)
	}
	if got := b.GetInt64(0); got != 20 {
		t.Fatalf("GetInt64 = %d, want 20", got)
	}
}

func TestPutBytesGetBytes(t *testing.T) {
	b := newAligned(t, 32)
	src := []byte{1, 2, 3, 4, 5}
	b.PutBytes(4, src, 1, 3)

	dst := make([]byte, 3)
	b.GetBytes(4, dst, 0, 3)
	if dst[0] != 2 || dst[1] != 3 || dst[2] != 4 {
		t.Fatalf("GetBytes = %v, want [2 3 4]", dst)
	}
}

func TestSetMemory(t *testing.T) {
	b := newAligned(t, 16)
	b.SetMemory(0, 16, 0xAB)
	for i, v := range b.Bytes() {
		if v != 0xAB {
			t.Fatalf("byte %d = %x, want 0xAB", i, v)
		}
	}
}

func TestBoundsViolationsPanic(t *testing.T) {
	b := newAligned(t, 8)

	cases := []func(){
		func() { b.GetInt32(8) },
		func() { b.GetInt64(4) },
		func() { b.PutInt32(-1, 0) },
		func() { b.PutBytes(0, []byte{1, 2}, 0, 4) },
	}

	for i, fn := range cases {
		func() {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatalf("case %d: expected panic, got none", i)
				}
				err, ok := r.(error)
				if !ok || !errors.Is(err, cerrors.New(cerrors.BoundsCheck, "")) {
					t.Fatalf("case %d: panic value %v is not a BoundsCheck cerrors.Error", i, r)
				}
			}()
			fn()
		}()
	}
}

func TestVerifyAlignment(t *testing.T) {
	b := newAligned(t, 16)
	if err := b.VerifyAlignment(); err != nil {
		t.Fatalf("VerifyAlignment: %v", err)
	}

	empty := Wrap(nil)
	if err := empty.VerifyAlignment(); err != nil {
		t.Fatalf("VerifyAlignment on empty buffer: %v", err)
	}
}
