// ============================================================================
// coresched Ordered Queue - comparator-driven circular buffer
// ============================================================================
//
// Package: internal/queue
// File: ordered.go
// Purpose: Generic sequence container kept in comparator order, used by the
//          scheduler for the waiting-job queue and the idle-core queue.
//
// Layout:
//   data  [ . . c d e f . . . a b ]   capacity = len(data)
//                           ^start
//   logical index i lives at data[(start+i) % cap]
//
//   - PollFront advances start, so removal from the front never shifts.
//   - InsertSorted / RemoveAt shift only the tail after the touched index.
//   - When full, the buffer grows to 2*cap+1 and is unrolled so start = 0.
//
// Ordering vs identity:
//   InsertSorted consults the comparator. RemoveIdentical never does; it
//   matches elements with ==, which for pointer element types is identity.
//
// Not safe for concurrent use.
//
// ============================================================================

package queue

const initialCapacity = 10

// Ordered is an array-backed queue whose order is defined by an injected
// comparator. cmp(a, b) < 0 means a precedes b.
type Ordered[T comparable] struct {
	data  []T
	start int
	count int
	cmp   func(a, b T) int
}

// NewOrdered allocates a queue with the default initial capacity.
func NewOrdered[T comparable](cmp func(a, b T) int) *Ordered[T] {
	return &Ordered[T]{
		data: make([]T, initialCapacity),
		cmp:  cmp,
	}
}

func (q *Ordered[T]) slot(index int) int {
	return (q.start + index) % len(q.data)
}

func (q *Ordered[T]) grow() {
	next := make([]T, len(q.data)*2+1)
	for i := 0; i < q.count; i++ {
		next[i] = q.data[q.slot(i)]
	}
	q.data = next
	q.start = 0
}

// InsertSorted places item before the first resident r with cmp(item, r) < 0.
// Items that compare equal keep insertion order. Returns the logical index.
func (q *Ordered[T]) InsertSorted(item T) int {
	if q.count == len(q.data) {
		q.grow()
	}

	index := 0
	for index < q.count && q.cmp(item, q.data[q.slot(index)]) >= 0 {
		index++
	}

	for i := q.count; i > index; i-- {
		q.data[q.slot(i)] = q.data[q.slot(i-1)]
	}
	q.data[q.slot(index)] = item
	q.count++
	return index
}

// Append puts item at the logical end without consulting the comparator.
func (q *Ordered[T]) Append(item T) int {
	if q.count == len(q.data) {
		q.grow()
	}
	q.data[q.slot(q.count)] = item
	q.count++
	return q.count - 1
}

// PeekFront returns the front element without removing it.
func (q *Ordered[T]) PeekFront() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	return q.data[q.slot(0)], true
}

// PollFront removes and returns the front element.
func (q *Ordered[T]) PollFront() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	idx := q.slot(0)
	item := q.data[idx]
	q.data[idx] = zero
	q.start = (q.start + 1) % len(q.data)
	q.count--
	return item, true
}

// At returns the element at the given logical index.
func (q *Ordered[T]) At(index int) (T, bool) {
	var zero T
	if index < 0 || index >= q.count {
		return zero, false
	}
	return q.data[q.slot(index)], true
}

// RemoveIdentical removes every element == item and reports how many were
// removed. Survivors keep their relative order.
func (q *Ordered[T]) RemoveIdentical(item T) int {
	removed := 0
	for i := 0; i < q.count; {
		if q.data[q.slot(i)] == item {
			q.RemoveAt(i)
			removed++
			continue
		}
		i++
	}
	return removed
}

// RemoveAt removes the element at index, shifting later elements forward.
func (q *Ordered[T]) RemoveAt(index int) (T, bool) {
	var zero T
	if index < 0 || index >= q.count {
		return zero, false
	}
	item := q.data[q.slot(index)]
	for i := index; i < q.count-1; i++ {
		q.data[q.slot(i)] = q.data[q.slot(i+1)]
	}
	q.data[q.slot(q.count-1)] = zero
	q.count--
	return item, true
}

// Len returns the number of stored elements.
func (q *Ordered[T]) Len() int { return q.count }

// IsEmpty reports whether the queue holds no elements.
func (q *Ordered[T]) IsEmpty() bool { return q.count == 0 }

// Cap returns the current buffer capacity.
func (q *Ordered[T]) Cap() int { return len(q.data) }

// Slice copies the elements out in logical order.
func (q *Ordered[T]) Slice() []T {
	out := make([]T, q.count)
	for i := range out {
		out[i] = q.data[q.slot(i)]
	}
	return out
}

// Destroy releases the backing storage. The queue must not be used afterwards.
func (q *Ordered[T]) Destroy() {
	q.data = nil
	q.start = 0
	q.count = 0
}
