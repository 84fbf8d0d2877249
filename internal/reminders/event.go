package reminders

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventKind names a lifecycle event on the wire.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventTriggered EventKind = "triggered"
	EventCompleted EventKind = "completed"
	EventIgnored   EventKind = "ignored"
)

// ErrMalformedEvent is returned by DecodeEvent for payloads that cannot be
// applied.
var ErrMalformedEvent = errors.New("malformed lifecycle event")

// Event is one lifecycle notification exchanged with peers. Source is
// diagnostic only.
type Event struct {
	Kind        EventKind `json:"event"`
	Reminder    Reminder  `json:"reminder"`
	PublishedAt time.Time `json:"published_at"`
	Origin      Origin    `json:"origin,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// Status returns the lifecycle status an event moves its reminder to.
func (k EventKind) Status() (Status, bool) {
	switch k {
	case EventCreated, "pending":
		return StatusPending, true
	case EventTriggered:
		return StatusTriggered, true
	case EventCompleted:
		return StatusCompleted, true
	case EventIgnored:
		return StatusIgnored, true
	}
	return "", false
}

func kindFor(s Status) EventKind {
	if s == StatusPending {
		return EventCreated
	}
	return EventKind(s)
}

// Encode renders e in the wire format.
func (e Event) Encode() ([]byte, error) {
	if e.Reminder.Tags == nil {
		e.Reminder.Tags = []string{}
	}
	return json.Marshal(e)
}

// wireEvent accepts the looser shapes older peers emit: naive ISO timestamps,
// tags as a comma separated string and null due times.
type wireEvent struct {
	Event       string        `json:"event"`
	Reminder    *wireReminder `json:"reminder"`
	PublishedAt string        `json:"published_at"`
	Origin      string        `json:"origin"`
	Source      string        `json:"source"`
}

type wireReminder struct {
	ID         int64           `json:"id"`
	SubjectID  string          `json:"user_id"`
	Content    string          `json:"content"`
	Severity   string          `json:"severity"`
	DueTime    *string         `json:"due_time"`
	RepeatRule *string         `json:"repeat_rule"`
	Status     string          `json:"status"`
	Tags       json.RawMessage `json:"tags"`
	CreatedAt  string          `json:"created_at"`
}

// DecodeEvent parses a wire payload. It fails for non-JSON input, unknown
// event kinds and events without a positive reminder id.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	kind := EventKind(strings.ToLower(strings.TrimSpace(w.Event)))
	if _, ok := kind.Status(); !ok {
		return Event{}, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, w.Event)
	}
	if w.Reminder == nil || w.Reminder.ID <= 0 {
		return Event{}, fmt.Errorf("%w: missing reminder id", ErrMalformedEvent)
	}

	r := w.Reminder
	ev := Event{
		Kind:        kind,
		PublishedAt: parseWireTime(w.PublishedAt),
		Origin:      Origin(w.Origin),
		Source:      w.Source,
		Reminder: Reminder{
			ID:        r.ID,
			SubjectID: r.SubjectID,
			Content:   r.Content,
			Severity:  Severity(r.Severity),
			Status:    Status(r.Status),
			Tags:      parseWireTags(r.Tags),
			CreatedAt: parseWireTime(r.CreatedAt),
		},
	}
	if r.DueTime != nil {
		ev.Reminder.DueAt = parseWireTime(*r.DueTime)
	}
	if r.RepeatRule != nil {
		ev.Reminder.RepeatRule = *r.RepeatRule
	}
	return ev, nil
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

// parseWireTime returns the zero time for values it cannot parse. Timestamps
// without a zone are read as UTC.
func parseWireTime(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range wireTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseWireTags(raw json.RawMessage) []string {
	tags := []string{}
	if len(raw) == 0 {
		return tags
	}
	if err := json.Unmarshal(raw, &tags); err == nil {
		if tags == nil {
			return []string{}
		}
		return tags
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return []string{}
	}
	tags = []string{}
	for _, t := range strings.Split(joined, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
