package transport

import (
	"sync"
	"sync/atomic"
)

// QueueStats counts traffic through one queue.
type QueueStats struct {
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Queue is a bounded FIFO that drops its oldest entry when full. With depth 1 it always holds
// the newest payload only.
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	depth  int
	closed bool
	ready  chan struct{}

	enqueued  uint64
	delivered uint64
	dropped   uint64
}

func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{
		depth: depth,
		ready: make(chan struct{}, 1),
	}
}

// Push appends payload, evicting the oldest entry when the queue is full. It reports whether
// the payload was accepted; a closed queue accepts nothing.
func (q *Queue) Push(payload []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.items) == q.depth {
		q.items[0] = nil
		q.items = q.items[1:]
		atomic.AddUint64(&q.dropped, 1)
	}
	q.items = append(q.items, payload)
	q.mu.Unlock()

	atomic.AddUint64(&q.enqueued, 1)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest payload without blocking.
func (q *Queue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	payload := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	atomic.AddUint64(&q.delivered, 1)
	return payload, true
}

// Ready is signalled after every Push. A receive does not guarantee Pop will succeed.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close discards pending payloads and rejects further pushes.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Enqueued:  atomic.LoadUint64(&q.enqueued),
		Delivered: atomic.LoadUint64(&q.delivered),
		Dropped:   atomic.LoadUint64(&q.dropped),
	}
}
