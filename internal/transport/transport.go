// Package transport carries opaque payloads over named topics. The MQTT
// implementation talks to a broker; Bus is an in-process equivalent.
package transport

import (
	"context"
	"errors"
)

// ErrTransportUnavailable is returned when a payload cannot be handed to the
// broker. Callers log it and carry on; nothing they committed is undone.
var ErrTransportUnavailable = errors.New("transport unavailable")

// Message is one delivery from a subscription.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber delivers messages for a topic until ctx is cancelled, then
// closes the returned channel. Delivery is at-least-once and unordered across
// reconnects.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
}

// subscriptionBuffer is how many undelivered messages a subscription holds
// before new ones are dropped.
const subscriptionBuffer = 64

// Tee publishes each payload to every publisher and joins their errors.
type Tee []Publisher

func (t Tee) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, p := range t {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
