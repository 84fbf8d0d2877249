// Package reminders owns the reminder lifecycle: a durable, monotonic state
// machine per reminder and the lifecycle events exchanged with remote peers.
package reminders

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/carewatch/internal/storage"
)

var (
	// ErrNotFound is returned for an unknown reminder id.
	ErrNotFound = storage.ErrNotFound

	// ErrInvalidStatus is returned for a status outside the lifecycle enum.
	ErrInvalidStatus = errors.New("invalid reminder status")

	// ErrInvalidTransition describes a requested move that would not advance
	// the reminder. It is reported through Transition.Reason and is never
	// returned as an error.
	ErrInvalidTransition = errors.New("transition does not advance reminder")

	// ErrInvalidReminder is returned when a Spec is missing required fields.
	ErrInvalidReminder = errors.New("invalid reminder")
)

// Status is a reminder's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusTriggered Status = "triggered"
	StatusCompleted Status = "completed"
	StatusIgnored   Status = "ignored"
)

// rank orders statuses; completed and ignored share the terminal rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusTriggered:
		return 2
	case StatusCompleted, StatusIgnored:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool { return s.rank() > 0 }

// Terminal reports whether no further transition is accepted from s.
func (s Status) Terminal() bool { return s.rank() == 3 }

// ParseStatus validates a status string.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// Severity mirrors the risk level that produced a reminder.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// Origin records who performed a mutation. Only local and timer mutations are
// published to peers.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
	OriginTimer  Origin = "timer"
)

func (o Origin) Valid() bool {
	return o == OriginLocal || o == OriginRemote || o == OriginTimer
}

// Reminder is a time-bound care task. Its JSON form is the reminder object of
// the lifecycle wire format.
type Reminder struct {
	ID         int64     `json:"id"`
	SubjectID  string    `json:"user_id"`
	Content    string    `json:"content"`
	Severity   Severity  `json:"severity"`
	DueAt      time.Time `json:"due_time"`
	RepeatRule string    `json:"repeat_rule,omitempty"`
	Status     Status    `json:"status"`
	Tags       []string  `json:"tags"`
	Origin     Origin    `json:"origin,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// Spec describes a reminder to create.
type Spec struct {
	SubjectID  string
	Content    string
	Severity   Severity
	DueAt      time.Time
	RepeatRule string
	Tags       []string
}

// Validate checks the fields Create requires.
func (s Spec) Validate() error {
	switch {
	case s.SubjectID == "":
		return fmt.Errorf("%w: subject is required", ErrInvalidReminder)
	case s.Content == "":
		return fmt.Errorf("%w: content is required", ErrInvalidReminder)
	case !s.Severity.Valid():
		return fmt.Errorf("%w: severity %q", ErrInvalidReminder, s.Severity)
	case s.DueAt.IsZero():
		return fmt.Errorf("%w: due time is required", ErrInvalidReminder)
	}
	return nil
}

// Transition is the outcome of UpdateStatus. When Changed is false, Reason
// wraps ErrInvalidTransition and Reminder is the unchanged current state.
type Transition struct {
	Reminder Reminder
	Changed  bool
	From     Status
	Reason   error
}

// Filter narrows List. Zero values mean any.
type Filter struct {
	SubjectID string
	Status    Status
	Limit     int
	Offset    int
}

// fromRow converts a stored row. Tags that fail to decode are logged and
// read as empty so the reminder itself stays readable.
func (s *Store) fromRow(r storage.Reminder) Reminder {
	tags := []string{}
	if r.Tags != "" {
		if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
			s.logger.Warn("decoding stored tags", "reminder_id", r.ID, "error", err)
			tags = []string{}
		}
	}
	return Reminder{
		ID:         r.ID,
		SubjectID:  r.SubjectID,
		Content:    r.Content,
		Severity:   Severity(r.Severity),
		DueAt:      r.DueAt,
		RepeatRule: r.RepeatRule,
		Status:     Status(r.Status),
		Tags:       tags,
		Origin:     Origin(r.Origin),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (s *Store) fromRows(rows []storage.Reminder) []Reminder {
	out := make([]Reminder, len(rows))
	for i, r := range rows {
		out[i] = s.fromRow(r)
	}
	return out
}
