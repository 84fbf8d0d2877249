package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/carewatch/internal/transport"
)

// ErrMalformedReading is returned by SensorCache.Apply for payloads that are
// not a JSON object.
var ErrMalformedReading = errors.New("malformed sensor reading")

// Vitals is the last known wearable reading. Nil fields were never reported.
type Vitals struct {
	HeartRate  *float64  `json:"heart_rate"`
	Steps      *int      `json:"steps"`
	SleepHours *float64  `json:"sleep"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// SensorCache keeps the latest vitals seen on the sensor topic. Partial
// updates only overwrite the fields they carry.
type SensorCache struct {
	mu     sync.RWMutex
	vitals Vitals
	now    func() time.Time
	logger *slog.Logger
}

func NewSensorCache() *SensorCache {
	return &SensorCache{now: time.Now, logger: slog.Default()}
}

type sensorPayload struct {
	DeviceID   string   `json:"device_id"`
	HeartRate  *float64 `json:"heart_rate"`
	Steps      *float64 `json:"steps"`
	SleepHours *float64 `json:"sleep"`
	Metrics    *struct {
		HeartRate  *float64 `json:"heart_rate"`
		Steps      *float64 `json:"steps"`
		SleepHours *float64 `json:"sleep"`
	} `json:"metrics"`
}

// Apply merges one sensor message. Readings may sit at the top level or
// under "metrics".
func (c *SensorCache) Apply(payload []byte) error {
	var p sensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReading, err)
	}
	hr, steps, sleep := p.HeartRate, p.Steps, p.SleepHours
	if m := p.Metrics; m != nil {
		hr, steps, sleep = firstOf(m.HeartRate, hr), firstOf(m.Steps, steps), firstOf(m.SleepHours, sleep)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if hr != nil {
		c.vitals.HeartRate = hr
	}
	if steps != nil {
		n := int(*steps)
		c.vitals.Steps = &n
	}
	if sleep != nil {
		c.vitals.SleepHours = sleep
	}
	if hr != nil || steps != nil || sleep != nil {
		c.vitals.UpdatedAt = c.now()
	}
	return nil
}

func firstOf(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

// Latest returns a copy of the cached vitals.
func (c *SensorCache) Latest() Vitals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := c.vitals
	if v.HeartRate != nil {
		hr := *v.HeartRate
		v.HeartRate = &hr
	}
	if v.Steps != nil {
		s := *v.Steps
		v.Steps = &s
	}
	if v.SleepHours != nil {
		sl := *v.SleepHours
		v.SleepHours = &sl
	}
	return v
}

// Run feeds the cache from topic until ctx is cancelled.
func (c *SensorCache) Run(ctx context.Context, sub transport.Subscriber, topic string) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	c.logger.Info("sensor cache listening", "topic", topic)
	for msg := range msgs {
		if err := c.Apply(msg.Payload); err != nil {
			c.logger.Warn("dropping sensor message", "topic", msg.Topic, "error", err)
		}
	}
	return nil
}
