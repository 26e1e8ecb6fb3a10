package bytebuf

// Allocator decides how session buffers are provisioned and whether they may
// grow. It is selected once when a server is constructed.
type Allocator interface {
	// Allocate returns a write-mode buffer of the given capacity.
	Allocate(capacity int) *Buffer

	// Grow ensures that at least minBytes can be appended at the current
	// position. Existing contents, position and (if it was at capacity)
	// limit are preserved. Returns ErrOutOfResources if growing is not
	// possible.
	Grow(b *Buffer, minBytes int) error

	// Release returns the buffer's storage. A released buffer must be
	// re-allocated before it is used again for a new session.
	Release(b *Buffer)

	// IsDynamic reports whether Grow can ever succeed.
	IsDynamic() bool
}

// Fixed never grows buffers. Release zero-fills the storage in place so the
// slot can be reused without a new allocation.
type Fixed struct{}

// Allocate implements Allocator.
func (Fixed) Allocate(capacity int) *Buffer { return New(capacity) }

// Grow implements Allocator. It succeeds only if the space is already there.
func (Fixed) Grow(b *Buffer, minBytes int) error {
	if len(b.data)-b.position >= minBytes {
		if b.limit < b.position+minBytes {
			b.limit = len(b.data)
		}
		return nil
	}
	return ErrOutOfResources
}

// Release implements Allocator.
func (Fixed) Release(b *Buffer) { b.Zero() }

// IsDynamic implements Allocator.
func (Fixed) IsDynamic() bool { return false }

// Dynamic reallocates buffers on demand, up to MaxCapacity bytes.
type Dynamic struct {
	// MaxCapacity bounds every buffer. Zero means DefaultMaxCapacity.
	MaxCapacity int
}

// DefaultMaxCapacity is the ceiling used by a zero Dynamic allocator.
const DefaultMaxCapacity = 1 << 20

// Allocate implements Allocator.
func (d Dynamic) Allocate(capacity int) *Buffer {
	if max := d.max(); capacity > max {
		capacity = max
	}
	return New(capacity)
}

// Grow implements Allocator.
func (d Dynamic) Grow(b *Buffer, minBytes int) error {
	need := b.position + minBytes
	if need <= len(b.data) {
		if b.limit < need {
			b.limit = len(b.data)
		}
		return nil
	}
	max := d.max()
	if need > max {
		return ErrOutOfResources
	}
	newCap := 2 * len(b.data)
	if newCap < need {
		newCap = need
	}
	if newCap > max {
		newCap = max
	}
	data := make([]byte, newCap)
	copy(data, b.data[:b.position])
	if b.limit == len(b.data) {
		b.limit = newCap
	} else {
		copy(data[b.position:], b.data[b.position:b.limit])
	}
	b.data = data
	b.check()
	return nil
}

// Release implements Allocator. The storage is dropped.
func (Dynamic) Release(b *Buffer) {
	b.data = nil
	b.position = 0
	b.limit = 0
}

// IsDynamic implements Allocator.
func (Dynamic) IsDynamic() bool { return true }

func (d Dynamic) max() int {
	if d.MaxCapacity <= 0 {
		return DefaultMaxCapacity
	}
	return d.MaxCapacity
}
