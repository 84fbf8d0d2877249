package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Reminder is the persisted row of a care reminder. Status and severity are
// kept as plain strings here; the reminders package owns their semantics.
type Reminder struct {
	ID         int64
	SubjectID  string
	Content    string
	Severity   string
	DueAt      time.Time
	RepeatRule string
	Status     string
	Tags       string // JSON array stored as text
	Origin     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReminderFilter narrows ListReminders. Zero values mean "any".
type ReminderFilter struct {
	SubjectID string
	Status    string
	Limit     int
	Offset    int
}

// StatusChange is what a decide callback returns to UpdateReminderStatus.
type StatusChange struct {
	Status string
	Origin string
	At     time.Time
}

// CareEvent is one entry of the append-only care log.
type CareEvent struct {
	ID         string
	Kind       string
	SubjectID  string
	ReminderID int64 // 0 when the event is not about a reminder
	Payload    string
	CreatedAt  time.Time
}

type CareEventFilter struct {
	Kind       string
	ReminderID int64
	Limit      int
	Offset     int
}

// RouteRecord is the audit row written for every routing decision.
type RouteRecord struct {
	ID          string
	CreatedAt   time.Time
	SubjectID   string
	Scenario    string
	Level       string
	Score       float64
	Route       string
	Message     string
	ReminderIDs string // JSON array stored as text
	Signals     string // JSON object stored as text
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// KnowledgeDoc is a care guidance document waiting for, or done with, indexing.
type KnowledgeDoc struct {
	ID         string
	Title      string
	Content    string
	Source     string
	Format     string
	Tags       string // JSON array stored as text
	ChunkCount int
	CreatedAt  time.Time
}
