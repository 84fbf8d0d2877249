package transport

import (
	"context"
	"fmt"
	"sync"
)

// Bus is an in-process Publisher and Subscriber with exact topic matching.
// It is used when MQTT is disabled and in tests.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*busSub
	closed bool
}

type busSub struct {
	ch   chan Message
	done chan struct{}
	// senders hold a read lock so the channel is only closed once no send
	// is in flight.
	sending sync.RWMutex
	once    sync.Once
}

func (s *busSub) close() {
	s.once.Do(func() {
		close(s.done)
		s.sending.Lock()
		close(s.ch)
		s.sending.Unlock()
	})
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*busSub)}
}

// Publish delivers payload to every current subscriber of topic, waiting for
// buffer space until ctx expires.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("publishing to %s: %w", topic, ErrTransportUnavailable)
	}
	targets := append([]*busSub(nil), b.subs[topic]...)
	b.mu.Unlock()

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for _, sub := range targets {
		if err := sub.send(ctx, msg); err != nil {
			return fmt.Errorf("publishing to %s: %w: %v", topic, ErrTransportUnavailable, err)
		}
	}
	return nil
}

func (s *busSub) send(ctx context.Context, msg Message) error {
	s.sending.RLock()
	defer s.sending.RUnlock()
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, ErrTransportUnavailable)
	}
	sub := &busSub{
		ch:   make(chan Message, subscriptionBuffer),
		done: make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	go func() {
		<-ctx.Done()
		b.unsubscribe(topic, sub)
	}()
	return sub.ch, nil
}

func (b *Bus) unsubscribe(topic string, sub *busSub) {
	b.mu.Lock()
	list := b.subs[topic]
	for i, s := range list {
		if s == sub {
			b.subs[topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Close closes every subscription and rejects further use.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*busSub
	for topic, list := range b.subs {
		all = append(all, list...)
		delete(b.subs, topic)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}
