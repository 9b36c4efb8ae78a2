package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned when using a closed transport.
var ErrClosed = errors.New("transport closed")

// MemoryBus is an in-process Transport. Published payloads are copied into every queue
// registered for the topic.
type MemoryBus struct {
	d *dispatcher

	mu         sync.RWMutex
	queues     map[string][]*Queue
	publishers map[string]*memoryPublisher
	closed     bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		d:          newDispatcher(),
		queues:     make(map[string][]*Queue),
		publishers: make(map[string]*memoryPublisher),
	}
}

func (b *MemoryBus) Subscribe(topic string, depth int, h Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	sub := b.d.add(topic, depth, h)
	b.queues[topic] = append(b.queues[topic], sub.queue)
	return nil
}

// Listen registers a queue on topic that is not drained by Spin. The caller pops it directly.
func (b *MemoryBus) Listen(topic string, depth int) (*Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	q := NewQueue(depth)
	b.queues[topic] = append(b.queues[topic], q)
	return q, nil
}

// Advertise returns the publisher for topic. Publishing hands the payload straight to the
// subscriber queues, so there is no outbound queue and depth is ignored.
func (b *MemoryBus) Advertise(topic string, _ int) (Publisher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if p, ok := b.publishers[topic]; ok {
		return p, nil
	}
	p := &memoryPublisher{bus: b, topic: topic}
	b.publishers[topic] = p
	return p, nil
}

// Publish delivers payload to every queue on topic.
func (b *MemoryBus) Publish(topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, q := range b.queues[topic] {
		if q.Push(append([]byte(nil), payload...)) {
			select {
			case b.d.wake <- struct{}{}:
			default:
			}
		}
	}
	return nil
}

func (b *MemoryBus) Spin(ctx context.Context) error {
	return b.d.spin(ctx)
}

func (b *MemoryBus) Stats() map[string]QueueStats {
	stats := make(map[string]QueueStats)
	b.d.stats(stats)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for topic, p := range b.publishers {
		stats[topic] = p.Stats()
	}
	return stats
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, qs := range b.queues {
		for _, q := range qs {
			q.Close()
		}
	}
	b.mu.Unlock()
	b.d.close()
	return nil
}

type memoryPublisher struct {
	bus   *MemoryBus
	topic string

	mu    sync.Mutex
	stats QueueStats
}

func (p *memoryPublisher) Publish(payload []byte) error {
	if err := p.bus.Publish(p.topic, payload); err != nil {
		return err
	}
	p.mu.Lock()
	p.stats.Enqueued++
	p.stats.Delivered++
	p.mu.Unlock()
	return nil
}

func (p *memoryPublisher) Stats() QueueStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
