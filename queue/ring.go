package queue

// An array-based fixed-capacity ring, supposedly faster than a LinkedList implementation.
// The dispatcher uses it for the round-robin order of workers. Not safe for concurrent use.

type Ring[T any] struct {
	// tracking the length separately in l, because calculating it from (front, back)
	// is difficult in some cases (especially rollover)
	front, back, l int
	ring           []T
}

func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{ring: make([]T, capacity)}
}

func (q *Ring[T]) Len() int {
	return q.l
}

func (q *Ring[T]) Cap() int {
	return len(q.ring)
}

// Append to the back. Returns false if the ring is full.
func (q *Ring[T]) Push(e T) bool {
	if q.l < len(q.ring) {
		q.ring[q.back] = e
		q.back = (q.back + 1) % len(q.ring)
		q.l++
		return true
	}
	return false
}

// Get from the front. ok is false if the ring is empty.
func (q *Ring[T]) Pop() (e T, ok bool) {
	if q.l == 0 {
		return e, false
	}
	var zero T
	e = q.ring[q.front]
	q.ring[q.front] = zero
	q.front = (q.front + 1) % len(q.ring)
	q.l--
	return e, true
}

// Returns the front element without removing it.
func (q *Ring[T]) Peek() (e T, ok bool) {
	if q.l == 0 {
		return e, false
	}
	return q.ring[q.front], true
}

// Rotate moves the front element to the back and returns it. This is one step of a round-robin
// over the ring's contents.
func (q *Ring[T]) Rotate() (e T, ok bool) {
	e, ok = q.Pop()
	if ok {
		q.Push(e)
	}
	return e, ok
}
