package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type subscription struct {
	topic   string
	queue   *Queue
	handler Handler
}

// dispatcher runs subscription handlers synchronously on the goroutine calling spin.
type dispatcher struct {
	mu     sync.RWMutex
	subs   []*subscription
	wake   chan struct{}
	failed chan error
	done   chan struct{}
	once   sync.Once
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		wake:   make(chan struct{}, 1),
		failed: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (d *dispatcher) add(topic string, depth int, h Handler) *subscription {
	sub := &subscription{topic: topic, queue: NewQueue(depth), handler: h}
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()
	return sub
}

func (d *dispatcher) deliver(sub *subscription, payload []byte) {
	if !sub.queue.Push(payload) {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// fail makes spin return err. Only the first failure is kept.
func (d *dispatcher) fail(err error) {
	select {
	case d.failed <- err:
	default:
	}
}

func (d *dispatcher) spin(ctx context.Context) error {
	for {
		for {
			progressed := false
			d.mu.RLock()
			subs := d.subs
			d.mu.RUnlock()
			for _, sub := range subs {
				payload, ok := sub.queue.Pop()
				if !ok {
					continue
				}
				progressed = true
				if err := d.invoke(ctx, sub, payload); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
			}
			if !progressed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-d.done:
			return nil
		case err := <-d.failed:
			return err
		case <-d.wake:
		}
	}
}

func (d *dispatcher) invoke(ctx context.Context, sub *subscription, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TransportError{Topic: sub.topic, Err: errors.Errorf("handler panic: %v", r)}
		}
	}()
	if err := sub.handler(ctx, payload); err != nil {
		return &TransportError{Topic: sub.topic, Err: err}
	}
	return nil
}

func (d *dispatcher) stats(into map[string]QueueStats) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subs {
		into[sub.topic] = sub.queue.Stats()
	}
}

func (d *dispatcher) close() {
	d.once.Do(func() {
		close(d.done)
		d.mu.RLock()
		for _, sub := range d.subs {
			sub.queue.Close()
		}
		d.mu.RUnlock()
	})
}
