// Package transport is the pub/sub layer the perception node talks to. Inbound messages are
// queued per subscription and handed to handlers one at a time by Spin; outbound publishers
// never block and drop their oldest backlog when full.
package transport

import (
	"context"
	"fmt"
)

// Handler processes one inbound payload. A returned error stops Spin.
type Handler func(ctx context.Context, payload []byte) error

// Publisher sends payloads on one topic.
type Publisher interface {
	// Publish enqueues payload without blocking.
	Publish(payload []byte) error
	Stats() QueueStats
}

// Transport is a topic based message bus.
type Transport interface {
	// Subscribe registers h for topic with an inbound queue of the given depth.
	Subscribe(topic string, depth int, h Handler) error
	// Advertise returns a publisher for topic with an outbound queue of the given depth.
	Advertise(topic string, depth int) (Publisher, error)
	// Spin delivers inbound messages on the calling goroutine until ctx is done, the transport
	// is closed, or a handler fails. Only a failure is returned as an error.
	Spin(ctx context.Context) error
	// Stats reports queue counters keyed by topic.
	Stats() map[string]QueueStats
	Close() error
}

// TransportError is returned by Spin when a handler fails or the connection is lost.
type TransportError struct {
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
