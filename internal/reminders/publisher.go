package reminders

import (
	"context"
	"errors"
	"fmt"
)

// RawPublisher sends a payload to a named topic. transport.Publisher
// implementations satisfy it.
type RawPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TopicPublisher encodes lifecycle events onto one topic.
type TopicPublisher struct {
	raw   RawPublisher
	topic string
}

func NewTopicPublisher(raw RawPublisher, topic string) *TopicPublisher {
	return &TopicPublisher{raw: raw, topic: topic}
}

func (p *TopicPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Kind, err)
	}
	return p.raw.Publish(ctx, p.topic, payload)
}

// Fanout delivers each event to every sink and joins their errors. A failing
// sink does not stop delivery to the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
