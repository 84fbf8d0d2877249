package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	ConnectTimeout time.Duration
	QoS            byte
}

// MQTT is a Publisher and Subscriber backed by a paho client. It reconnects
// on its own and restores subscriptions after every reconnect.
type MQTT struct {
	client mqtt.Client
	qos    byte
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string][]chan Message
}

// DialMQTT connects to the broker. If the broker is not reachable within
// ConnectTimeout the client keeps retrying in the background and DialMQTT
// returns it anyway; publishes fail with ErrTransportUnavailable meanwhile.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker address is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	m := &MQTT{
		qos:    cfg.QoS,
		logger: slog.Default(),
		subs:   make(map[string][]chan Message),
	}
	m.client = mqtt.NewClient(m.clientOptions(cfg))

	tok := m.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
		}
	case <-time.After(cfg.ConnectTimeout):
		m.logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", cfg.Broker)
	case <-ctx.Done():
		m.client.Disconnect(0)
		return nil, ctx.Err()
	}
	return m, nil
}

func (m *MQTT) clientOptions(cfg MQTTConfig) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.logger.Warn("mqtt connection lost", "error", err)
		})
}

// onConnect restores every live subscription; a clean session forgets them.
func (m *MQTT) onConnect(c mqtt.Client) {
	m.mu.Lock()
	topics := make([]string, 0, len(m.subs))
	for topic := range m.subs {
		topics = append(topics, topic)
	}
	m.mu.Unlock()

	m.logger.Info("mqtt connected", "subscriptions", len(topics))
	for _, topic := range topics {
		if tok := c.Subscribe(topic, m.qos, m.deliver); tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
			m.logger.Warn("mqtt resubscribe failed", "topic", topic, "error", tok.Error())
		}
	}
}

// deliver fans a broker message out to local subscribers of its topic. A full
// subscriber buffer drops the message for that subscriber.
func (m *MQTT) deliver(_ mqtt.Client, msg mqtt.Message) {
	out := Message{Topic: msg.Topic(), Payload: msg.Payload()}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[msg.Topic()] {
		select {
		case ch <- out:
		default:
			m.logger.Warn("mqtt subscriber buffer full, dropping message", "topic", msg.Topic())
		}
	}
}

// Publish sends payload without retain. It waits for the broker hand-off
// until ctx expires.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	if !m.client.IsConnectionOpen() {
		return fmt.Errorf("publishing to %s: %w", topic, ErrTransportUnavailable)
	}
	tok := m.client.Publish(topic, m.qos, false, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("publishing to %s: %w: %v", topic, ErrTransportUnavailable, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w: %v", topic, ErrTransportUnavailable, ctx.Err())
	}
}

// Subscribe registers a local subscriber. The broker subscription is made now
// if connected and again after every reconnect.
func (m *MQTT) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, subscriptionBuffer)

	m.mu.Lock()
	first := len(m.subs[topic]) == 0
	m.subs[topic] = append(m.subs[topic], ch)
	m.mu.Unlock()

	if first && m.client.IsConnectionOpen() {
		tok := m.client.Subscribe(topic, m.qos, m.deliver)
		if tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
			m.remove(topic, ch)
			return nil, fmt.Errorf("subscribing to %s: %w", topic, tok.Error())
		}
	}

	go func() {
		<-ctx.Done()
		if m.remove(topic, ch) && m.client.IsConnectionOpen() {
			m.client.Unsubscribe(topic).WaitTimeout(time.Second)
		}
	}()
	return ch, nil
}

// remove detaches and closes ch. It reports whether topic has no local
// subscribers left.
func (m *MQTT) remove(topic string, ch chan Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[topic]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			close(ch)
			break
		}
	}
	if len(list) == 0 {
		delete(m.subs, topic)
		return true
	}
	m.subs[topic] = list
	return false
}

// Connected reports whether the broker connection is currently up.
func (m *MQTT) Connected() bool {
	return m.client.IsConnectionOpen()
}

// Close disconnects after letting in-flight work finish for up to quiesce.
func (m *MQTT) Close(quiesce time.Duration) {
	m.client.Disconnect(uint(quiesce.Milliseconds()))
}
