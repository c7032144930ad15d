// Package ring provides a fixed-capacity FIFO window used by the rolling
// indicators.
package ring

// Buffer keeps the most recent Cap() values pushed into it.
type Buffer[T any] struct {
	buf   []T
	cap   int
	len   int
	start int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{buf: make([]T, capacity), cap: capacity}
}

// Push appends v and returns the value it evicted, if the buffer was full.
func (r *Buffer[T]) Push(v T) (evicted T, ok bool) {
	if r.len < r.cap {
		r.buf[(r.start+r.len)%r.cap] = v
		r.len++
		return evicted, false
	}
	evicted = r.buf[r.start]
	r.buf[r.start] = v
	r.start = (r.start + 1) % r.cap
	return evicted, true
}

// Get returns the i-th oldest value.
func (r *Buffer[T]) Get(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.len {
		return zero, false
	}
	return r.buf[(r.start+i)%r.cap], true
}

// Values copies the buffer contents oldest first.
func (r *Buffer[T]) Values() []T {
	out := make([]T, r.len)
	for i := 0; i < r.len; i++ {
		out[i] = r.buf[(r.start+i)%r.cap]
	}
	return out
}

func (r *Buffer[T]) Len() int  { return r.len }
func (r *Buffer[T]) Cap() int  { return r.cap }
func (r *Buffer[T]) Full() bool { return r.len == r.cap }
