// Package ringbuf provides a fixed-capacity overwrite ring buffer.
// A Ring has a single owner; it is not safe for concurrent use.
package ringbuf

// Ring keeps the last Cap() values pushed. Pushing into a full ring
// overwrites the oldest value.
type Ring[T any] struct {
	buf  []T
	head int // next write position
	n    int // number of valid entries
}

// New creates a ring with the given capacity. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. Returns true if the oldest value was evicted.
func (r *Ring[T]) Push(v T) bool {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
		return false
	}
	return true
}

// ReplaceLast overwrites the newest value. Returns false if empty.
func (r *Ring[T]) ReplaceLast(v T) bool {
	if r.n == 0 {
		return false
	}
	r.buf[r.index(r.n-1)] = v
	return true
}

// Last returns the newest value.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.buf[r.index(r.n-1)], true
}

// At returns the i-th value, 0 being the oldest.
func (r *Ring[T]) At(i int) T {
	return r.buf[r.index(i)]
}

// Tail appends the newest n values to dst, oldest first.
// Fewer values are appended when the ring holds less than n.
func (r *Ring[T]) Tail(n int, dst []T) []T {
	if n > r.n {
		n = r.n
	}
	for i := r.n - n; i < r.n; i++ {
		dst = append(dst, r.buf[r.index(i)])
	}
	return dst
}

// Len returns the number of values held.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// CopyFrom makes r an exact copy of src, reusing r's storage when the
// capacities match.
func (r *Ring[T]) CopyFrom(src *Ring[T]) {
	if len(r.buf) != len(src.buf) {
		r.buf = make([]T, len(src.buf))
	}
	copy(r.buf, src.buf)
	r.head = src.head
	r.n = src.n
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (r *Ring[T]) index(logical int) int {
	start := r.head - r.n
	if start < 0 {
		start += len(r.buf)
	}
	return (start + logical) % len(r.buf)
}
