// Package bytebuf provides the position/limit/capacity byte buffer used for
// session inbound and outbound data, together with the allocation strategy
// that decides whether buffers may grow past their initial capacity.
//
// A Buffer is in one of two modes. In write mode, [0, position) holds data
// and [position, limit) is free space (limit normally equals capacity).
// After Flip, the buffer is in read mode: [position, limit) holds the data
// still to be consumed.
//
// The invariant 0 <= position <= limit <= capacity holds for every reachable
// state. Violating it is a logic error and panics.
package bytebuf

// Buffer is a growable view over a byte region.
type Buffer struct {
	data     []byte
	position int
	limit    int
}

// New creates a buffer in write mode with the given capacity.
func New(capacity int) *Buffer {
	if capacity < 0 {
		panic("bytebuf: negative capacity")
	}
	return &Buffer{
		data:  make([]byte, capacity),
		limit: capacity,
	}
}

// Position returns the current position.
func (b *Buffer) Position() int { return b.position }

// Limit returns the current limit.
func (b *Buffer) Limit() int { return b.limit }

// Capacity returns the size of the backing storage.
func (b *Buffer) Capacity() int { return len(b.data) }

// Remaining returns limit - position.
func (b *Buffer) Remaining() int { return b.limit - b.position }

// IsEmpty reports whether a write-mode buffer holds no data.
func (b *Buffer) IsEmpty() bool { return b.position == 0 && b.limit == len(b.data) }

// SetPosition moves the position.
func (b *Buffer) SetPosition(position int) {
	b.position = position
	b.check()
}

// SetLimit moves the limit.
func (b *Buffer) SetLimit(limit int) {
	b.limit = limit
	b.check()
}

// Head returns data[0:position], the written region in write mode.
func (b *Buffer) Head() []byte { return b.data[:b.position] }

// Bytes returns data[position:limit]. In write mode this is free space,
// in read mode it is the unconsumed data.
func (b *Buffer) Bytes() []byte { return b.data[b.position:b.limit] }

// Slice returns data[from:to]. Both bounds must lie within capacity.
func (b *Buffer) Slice(from, to int) []byte { return b.data[from:to] }

// Advance moves the position forward by n after bytes were written into
// or consumed from Bytes().
func (b *Buffer) Advance(n int) {
	if n < 0 || n > b.Remaining() {
		panic("bytebuf: advance out of range")
	}
	b.position += n
}

// Append copies p at position. It returns ErrOverflow without modifying the
// buffer if p does not fit before limit.
func (b *Buffer) Append(p []byte) error {
	if len(p) > b.Remaining() {
		return ErrOverflow
	}
	b.position += copy(b.data[b.position:b.limit], p)
	return nil
}

// AppendString is Append for strings.
func (b *Buffer) AppendString(s string) error {
	if len(s) > b.Remaining() {
		return ErrOverflow
	}
	b.position += copy(b.data[b.position:b.limit], s)
	return nil
}

// Flip switches from write mode to read mode: limit becomes the former
// position and position is reset to zero. Sessions stay in write mode and
// read [0, mark) through Slice instead, so bytes still arriving behind the
// mark are not disturbed.
func (b *Buffer) Flip() {
	b.limit = b.position
	b.position = 0
}

// Clear resets the buffer to an empty write-mode buffer. Contents are kept.
func (b *Buffer) Clear() {
	b.position = 0
	b.limit = len(b.data)
}

// ShiftLeft discards the first n bytes of the written region [0, position),
// moving the remaining bytes to offset zero.
func (b *Buffer) ShiftLeft(n int) {
	if n < 0 || n > b.position {
		panic("bytebuf: shift out of range")
	}
	if n == 0 {
		return
	}
	copy(b.data, b.data[n:b.position])
	b.position -= n
	b.check()
}

// Truncate sets the position back to n, dropping everything after it.
func (b *Buffer) Truncate(n int) {
	if n < 0 || n > b.position {
		panic("bytebuf: truncate out of range")
	}
	b.position = n
}

// Zero fills the whole backing storage with zeros and clears the buffer.
func (b *Buffer) Zero() {
	clear(b.data)
	b.Clear()
}

// check enforces 0 <= position <= limit <= capacity.
func (b *Buffer) check() {
	if b.position < 0 || b.position > b.limit || b.limit > len(b.data) {
		panic("bytebuf: invariant violated: position <= limit <= capacity")
	}
}
