package session

import "sync"

// ReceiveBuffer accumulates inbound bytes for a session. It carries its own
// lock so the transport can append while other goroutines use the record.
type ReceiveBuffer struct {
	mu  sync.Mutex
	buf []byte
}

// Write appends p to the buffer. It never fails.
func (b *ReceiveBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Bytes returns a copy of the buffered data.
func (b *ReceiveBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Len returns the number of buffered bytes.
func (b *ReceiveBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.buf)
}

// Consume drops the first n bytes. n larger than Len empties the buffer.
func (b *ReceiveBuffer) Consume(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n >= len(b.buf) {
		b.buf = b.buf[:0]
		return
	}

	if n > 0 {
		b.buf = append(b.buf[:0], b.buf[n:]...)
	}
}

// Next removes and returns the first n bytes if at least n are buffered.
//
// Parameters:
//   - n: Number of bytes to take
//
// Returns:
//   - The bytes, or nil if fewer than n are buffered
//   - Whether the bytes were taken
func (b *ReceiveBuffer) Next(n int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < 0 || n > len(b.buf) {
		return nil, false
	}

	out := make([]byte, n)
	copy(out, b.buf)
	b.buf = append(b.buf[:0], b.buf[n:]...)
	return out, true
}

// Reset empties the buffer.
func (b *ReceiveBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = b.buf[:0]
}
