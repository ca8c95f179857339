package event

import (
	"fmt"

	"dex_go/internal/domain"
)

// Queue is a bounded FIFO ring of settlement events.
// Capacity is a power of two so positions wrap with a mask. Push never
// blocks: a full queue is an error the caller surfaces to the submitter.
//
// Queue is not safe for concurrent use; the state store serialises access.
type Queue struct {
	buf     []Event
	mask    uint64
	head    uint64 // absolute read position
	tail    uint64 // absolute write position
	nextSeq uint64
}

// NewQueue creates a queue. capacity must be a power of two.
func NewQueue(capacity int) (*Queue, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, domain.NewValidationError("capacity", "%d is not a power of two", capacity)
	}
	return &Queue{
		buf:     make([]Event, capacity),
		mask:    uint64(capacity - 1),
		nextSeq: 1,
	}, nil
}

// Push appends e, assigning its sequence number.
func (q *Queue) Push(e Event) (uint64, error) {
	if q.tail-q.head == uint64(len(q.buf)) {
		return 0, fmt.Errorf("%w: capacity %d", domain.ErrQueueFull, len(q.buf))
	}
	e.Seq = q.nextSeq
	q.buf[q.tail&q.mask] = e
	q.tail++
	q.nextSeq++
	return e.Seq, nil
}

// Peek returns up to n events from the head without consuming them.
func (q *Queue) Peek(n int) []Event {
	if avail := q.Len(); n > avail {
		n = avail
	}
	if n <= 0 {
		return nil
	}
	out := make([]Event, n)
	for i := range out {
		out[i] = q.buf[(q.head+uint64(i))&q.mask]
	}
	return out
}

// Pop consumes up to n events from the head and returns how many were removed.
func (q *Queue) Pop(n int) int {
	if avail := q.Len(); n > avail {
		n = avail
	}
	if n <= 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		q.buf[(q.head+uint64(i))&q.mask] = Event{}
	}
	q.head += uint64(n)
	return n
}

// Len returns the number of unconsumed events.
func (q *Queue) Len() int { return int(q.tail - q.head) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Free returns how many events can still be pushed.
func (q *Queue) Free() int { return q.Cap() - q.Len() }

// HeadSeq is the sequence number of the oldest unconsumed event, or NextSeq
// when the queue is empty.
func (q *Queue) HeadSeq() uint64 { return q.nextSeq - uint64(q.Len()) }

// NextSeq is the sequence number the next pushed event will get.
func (q *Queue) NextSeq() uint64 { return q.nextSeq }

// Clone returns an independent copy.
func (q *Queue) Clone() *Queue {
	c := *q
	c.buf = make([]Event, len(q.buf))
	copy(c.buf, q.buf)
	return &c
}

// Snapshot is the serialisable form of a queue.
type Snapshot struct {
	Capacity int     `json:"capacity"`
	NextSeq  uint64  `json:"next_seq"`
	Events   []Event `json:"events"`
}

// Snapshot captures the pending events in FIFO order.
func (q *Queue) Snapshot() Snapshot {
	return Snapshot{Capacity: q.Cap(), NextSeq: q.nextSeq, Events: q.Peek(q.Len())}
}

// FromSnapshot rebuilds a queue, preserving sequence numbers.
func FromSnapshot(s Snapshot) (*Queue, error) {
	q, err := NewQueue(s.Capacity)
	if err != nil {
		return nil, err
	}
	if len(s.Events) > q.Cap() {
		return nil, domain.NewValidationError("events", "%d events exceed capacity %d", len(s.Events), q.Cap())
	}
	for i, e := range s.Events {
		q.buf[i] = e
	}
	q.tail = uint64(len(s.Events))
	q.nextSeq = s.NextSeq
	if q.nextSeq < uint64(len(s.Events))+1 {
		return nil, domain.NewValidationError("next_seq", "%d behind %d pending events", s.NextSeq, len(s.Events))
	}
	return q, nil
}
