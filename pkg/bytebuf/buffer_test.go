package bytebuf

import (
	"bytes"
	"math/rand"
	"testing"
)

func checkInvariant(t *testing.T, b *Buffer) {
	t.Helper()
	if b.Position() < 0 || b.Position() > b.Limit() || b.Limit() > b.Capacity() {
		t.Fatalf("invariant violated: position=%d limit=%d capacity=%d",
			b.Position(), b.Limit(), b.Capacity())
	}
}

func TestBuffer_AppendFlipClear(t *testing.T) {
	b := New(8)
	if err := b.AppendString("abc"); err != nil {
		t.Fatalf("AppendString() error = %v", err)
	}
	if b.Position() != 3 || b.Remaining() != 5 {
		t.Errorf("position=%d remaining=%d, want 3, 5", b.Position(), b.Remaining())
	}

	if err := b.Append([]byte("123456")); err != ErrOverflow {
		t.Errorf("Append() error = %v, want ErrOverflow", err)
	}
	if b.Position() != 3 {
		t.Errorf("failed append moved position to %d", b.Position())
	}

	b.Flip()
	if got := string(b.Bytes()); got != "abc" {
		t.Errorf("Bytes() after Flip = %q, want %q", got, "abc")
	}
	b.Advance(1)
	if got := string(b.Bytes()); got != "bc" {
		t.Errorf("Bytes() after Advance = %q, want %q", got, "bc")
	}

	b.Clear()
	if !b.IsEmpty() {
		t.Error("IsEmpty() = false after Clear")
	}
}

func TestBuffer_ShiftLeft(t *testing.T) {
	b := New(16)
	_ = b.AppendString("GET /a\r\n\r\nPUT")
	b.ShiftLeft(10)
	if got := string(b.Head()); got != "PUT" {
		t.Errorf("Head() = %q, want %q", got, "PUT")
	}
	checkInvariant(t, b)

	b.ShiftLeft(0)
	if got := string(b.Head()); got != "PUT" {
		t.Errorf("ShiftLeft(0) changed contents to %q", got)
	}

	b.ShiftLeft(3)
	if b.Position() != 0 {
		t.Errorf("Position() = %d, want 0", b.Position())
	}
}

func TestBuffer_InvariantPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(b *Buffer)
	}{
		{"position past limit", func(b *Buffer) { b.SetLimit(2); b.SetPosition(3) }},
		{"limit past capacity", func(b *Buffer) { b.SetLimit(5) }},
		{"shift past position", func(b *Buffer) { b.ShiftLeft(1) }},
		{"advance past limit", func(b *Buffer) { b.Advance(5) }},
		{"truncate past position", func(b *Buffer) { b.Truncate(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn(New(4))
		})
	}
}

// Random operation sequences never leave the buffer outside its invariant.
func TestBuffer_InvariantUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	alloc := Dynamic{MaxCapacity: 256}
	b := alloc.Allocate(16)
	for i := 0; i < 5000; i++ {
		switch rng.Intn(6) {
		case 0:
			p := make([]byte, rng.Intn(12))
			if err := b.Append(p); err != nil {
				_ = alloc.Grow(b, len(p))
			}
		case 1:
			if b.Position() > 0 {
				b.ShiftLeft(rng.Intn(b.Position() + 1))
			}
		case 2:
			b.Clear()
		case 3:
			if b.Position() > 0 {
				b.Truncate(rng.Intn(b.Position() + 1))
			}
		case 4:
			_ = alloc.Grow(b, rng.Intn(32))
		case 5:
			b.Flip()
			b.Advance(b.Remaining())
			b.Clear()
		}
		checkInvariant(t, b)
	}
}

func TestFixed(t *testing.T) {
	var alloc Allocator = Fixed{}
	if alloc.IsDynamic() {
		t.Error("Fixed.IsDynamic() = true")
	}
	b := alloc.Allocate(4)
	_ = b.AppendString("abc")

	if err := alloc.Grow(b, 1); err != nil {
		t.Errorf("Grow(1) error = %v, want nil", err)
	}
	if err := alloc.Grow(b, 2); err != ErrOutOfResources {
		t.Errorf("Grow(2) error = %v, want ErrOutOfResources", err)
	}

	alloc.Release(b)
	if b.Capacity() != 4 {
		t.Errorf("Capacity() after Release = %d, want 4", b.Capacity())
	}
	if !bytes.Equal(b.Slice(0, 4), make([]byte, 4)) {
		t.Errorf("Release did not zero-fill: %v", b.Slice(0, 4))
	}
}

func TestDynamic(t *testing.T) {
	alloc := Dynamic{MaxCapacity: 64}
	b := alloc.Allocate(4)
	_ = b.AppendString("abcd")

	if err := alloc.Grow(b, 10); err != nil {
		t.Fatalf("Grow() error = %v", err)
	}
	if b.Capacity() < 14 {
		t.Errorf("Capacity() = %d, want >= 14", b.Capacity())
	}
	if b.Limit() != b.Capacity() {
		t.Errorf("Limit() = %d, want capacity %d", b.Limit(), b.Capacity())
	}
	if got := string(b.Head()); got != "abcd" {
		t.Errorf("Head() after Grow = %q, want %q", got, "abcd")
	}

	if err := alloc.Grow(b, 100); err != ErrOutOfResources {
		t.Errorf("Grow past max error = %v, want ErrOutOfResources", err)
	}

	alloc.Release(b)
	if b.Capacity() != 0 {
		t.Errorf("Capacity() after Release = %d, want 0", b.Capacity())
	}
}

func TestDynamic_GrowPreservesReadMode(t *testing.T) {
	alloc := Dynamic{}
	b := alloc.Allocate(8)
	_ = b.AppendString("hello")
	b.Flip()
	b.Advance(2)
	// Read-mode buffers keep their limit.
	if err := alloc.Grow(b, 3); err != nil {
		t.Fatalf("Grow() error = %v", err)
	}
	if got := string(b.Bytes()); got != "llo" {
		t.Errorf("Bytes() = %q, want %q", got, "llo")
	}
}
