package jitter

// ring is a fixed-capacity FIFO of int16 samples. Writing past capacity
// discards the oldest samples.
type ring struct {
	buf  []int16
	read int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]int16, capacity)}
}

func (r *ring) len() int { return r.size }

func (r *ring) free() int { return len(r.buf) - r.size }

// write appends samples and reports whether older samples had to be
// discarded to make room.
func (r *ring) write(samples []int16) bool {
	overflow := false
	if n := len(samples); n > len(r.buf) {
		samples = samples[n-len(r.buf):]
		overflow = true
	}
	if excess := len(samples) - r.free(); excess > 0 {
		r.discard(excess)
		overflow = true
	}
	w := (r.read + r.size) % len(r.buf)
	n := copy(r.buf[w:], samples)
	copy(r.buf, samples[n:])
	r.size += len(samples)
	return overflow
}

// writeSilence appends n zero samples.
func (r *ring) writeSilence(n int) bool {
	if n <= 0 {
		return false
	}
	return r.write(make([]int16, n))
}

// peek appends up to n samples from the read position to dst without
// consuming them.
func (r *ring) peek(dst []int16, n int) []int16 {
	n = min(n, r.size)
	end := r.read + n
	if end <= len(r.buf) {
		return append(dst, r.buf[r.read:end]...)
	}
	dst = append(dst, r.buf[r.read:]...)
	return append(dst, r.buf[:end-len(r.buf)]...)
}

// discard consumes up to n samples.
func (r *ring) discard(n int) {
	n = min(n, r.size)
	r.read = (r.read + n) % len(r.buf)
	r.size -= n
}
