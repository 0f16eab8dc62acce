package pipeline

// ring is a bounded FIFO history buffer. Oldest entries are evicted when
// capacity is reached. Not safe for concurrent use; callers hold the
// owning context's lock.
type ring[T any] struct {
	capacity int
	buf      []T
	next     int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{capacity: capacity, buf: make([]T, 0, capacity)}
}

func (r *ring[T]) Push(v T) {
	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % r.capacity
}

// Items returns the retained entries oldest first.
func (r *ring[T]) Items() []T {
	out := make([]T, 0, len(r.buf))
	if len(r.buf) < r.capacity {
		return append(out, r.buf...)
	}
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Last returns the newest entry.
func (r *ring[T]) Last() (T, bool) {
	var zero T
	if len(r.buf) == 0 {
		return zero, false
	}
	if len(r.buf) < r.capacity {
		return r.buf[len(r.buf)-1], true
	}
	idx := r.next - 1
	if idx < 0 {
		idx = r.capacity - 1
	}
	return r.buf[idx], true
}

func (r *ring[T]) Len() int {
	return len(r.buf)
}
