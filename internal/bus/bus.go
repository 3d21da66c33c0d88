// Package bus moves events between services. Delivery is at-least-once:
// handlers must be idempotent.
package bus

import "context"

type Message struct {
	ID      string // dedupe id, e.g. events.OutcomeEventID
	Key     string // partition/aggregate key
	Type    string
	Payload []byte
}

type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Handler returning an error leaves the message unacknowledged for redelivery.
type Handler func(ctx context.Context, m Message) error

type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) error
}
