package jscontext

const (
	// chunkSize is the number of entries per node of a chunkedQueue.
	chunkSize = 128
)

// chunkedQueue is a chunked linked-list double-ended queue.
//
// Fixed-size arrays amortize allocations, and a single exhausted chunk is
// kept as a spare for reuse, which covers the common pattern of a queue
// that repeatedly fills and drains.
//
// NOT SAFE FOR CONCURRENT USE. Callers hold a mutex or are the owning
// thread.
type chunkedQueue[T any] struct { // betteralign:ignore
	head   *chunk[T]
	tail   *chunk[T]
	spare  *chunk[T]
	length int
}

// chunk is a fixed-size node of the queue. Live entries are
// items[readPos:pos].
type chunk[T any] struct {
	items   [chunkSize]T
	next    *chunk[T]
	readPos int
	pos     int
}

func (q *chunkedQueue[T]) newChunk() *chunk[T] {
	if c := q.spare; c != nil {
		q.spare = nil
		return c
	}
	return new(chunk[T])
}

// release clears a drained chunk and keeps it as the spare.
func (q *chunkedQueue[T]) release(c *chunk[T]) {
	var zero T
	for i := range c.items {
		c.items[i] = zero
	}
	c.readPos = 0
	c.pos = 0
	c.next = nil
	q.spare = c
}

// PushBack appends v to the back of the queue.
func (q *chunkedQueue[T]) PushBack(v T) {
	if q.tail == nil {
		q.tail = q.newChunk()
		q.head = q.tail
	} else if q.tail.pos == len(q.tail.items) {
		c := q.newChunk()
		q.tail.next = c
		q.tail = c
	}
	q.tail.items[q.tail.pos] = v
	q.tail.pos++
	q.length++
}

// PushFront prepends v, so that it is the next value returned by PopFront.
func (q *chunkedQueue[T]) PushFront(v T) {
	switch {
	case q.head == nil:
		c := q.newChunk()
		c.readPos, c.pos = chunkSize, chunkSize
		q.head, q.tail = c, c
	case q.head.readPos == q.head.pos:
		// empty head chunk: restart it from the end
		q.head.readPos, q.head.pos = chunkSize, chunkSize
	case q.head.readPos == 0:
		c := q.newChunk()
		c.readPos, c.pos = chunkSize, chunkSize
		c.next = q.head
		q.head = c
	}
	q.head.readPos--
	q.head.items[q.head.readPos] = v
	q.length++
}

// PopFront removes and returns the front value, or false if empty.
func (q *chunkedQueue[T]) PopFront() (T, bool) {
	var zero T
	if q.length == 0 {
		return zero, false
	}
	for q.head.readPos == q.head.pos {
		old := q.head
		q.head = old.next
		q.release(old)
	}
	v := q.head.items[q.head.readPos]
	q.head.items[q.head.readPos] = zero
	q.head.readPos++
	q.length--
	if q.head.readPos == q.head.pos {
		if q.head == q.tail {
			q.head.readPos, q.head.pos = 0, 0
		} else {
			old := q.head
			q.head = old.next
			q.release(old)
		}
	}
	return v, true
}

// Front returns the front value without removing it.
func (q *chunkedQueue[T]) Front() (T, bool) {
	var zero T
	if q.length == 0 {
		return zero, false
	}
	c := q.head
	for c.readPos == c.pos {
		c = c.next
	}
	return c.items[c.readPos], true
}

// Len returns the number of values in the queue.
func (q *chunkedQueue[T]) Len() int {
	return q.length
}

// Swap exchanges the contents of q and other.
func (q *chunkedQueue[T]) Swap(other *chunkedQueue[T]) {
	*q, *other = *other, *q
}

// Each calls fn for every value, front to back.
func (q *chunkedQueue[T]) Each(fn func(T)) {
	for c := q.head; c != nil; c = c.next {
		for i := c.readPos; i < c.pos; i++ {
			fn(c.items[i])
		}
	}
}

// Clear removes every value.
func (q *chunkedQueue[T]) Clear() {
	for q.length > 0 {
		q.PopFront()
	}
}
