package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/carewatch/internal/metrics"
	"github.com/kalambet/carewatch/internal/storage"
)

// Backend is the persistence the store needs. *storage.Store implements it.
type Backend interface {
	InsertReminder(ctx context.Context, r storage.Reminder) (storage.Reminder, error)
	GetReminder(ctx context.Context, id int64) (storage.Reminder, error)
	GetReminders(ctx context.Context, ids []int64) ([]storage.Reminder, error)
	ListReminders(ctx context.Context, f storage.ReminderFilter) ([]storage.Reminder, error)
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]storage.Reminder, error)
	UpdateReminderStatus(ctx context.Context, id int64, decide func(storage.Reminder) (storage.StatusChange, bool)) (storage.Reminder, bool, error)
	CountRemindersByStatus(ctx context.Context) (map[string]int, error)
}

// Publisher delivers lifecycle events to peers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

const defaultPublishTimeout = 5 * time.Second

// Store is the reminder state machine. All mutations go through Create and
// UpdateStatus, which serialize per reminder id and publish only after the
// change is committed.
type Store struct {
	db             Backend
	pub            Publisher
	metrics        *metrics.Metrics
	locks          keyedMutex
	source         string
	publishTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Source is the id this node stamps on the events it publishes.
func (s *Store) Source() string {
	return s.source
}

// NewStore creates a Store. pub and m may be nil. source identifies this node
// in outbound events.
func NewStore(db Backend, pub Publisher, m *metrics.Metrics, source string) *Store {
	return &Store{
		db:             db,
		pub:            pub,
		metrics:        m,
		source:         source,
		publishTimeout: defaultPublishTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         slog.Default(),
	}
}

// SetPublishTimeout bounds each outbound publish. Non-positive values keep
// the default.
func (s *Store) SetPublishTimeout(d time.Duration) {
	if d > 0 {
		s.publishTimeout = d
	}
}

// Create persists spec as a pending reminder and announces it unless the
// origin is remote.
func (s *Store) Create(ctx context.Context, spec Spec, origin Origin) (Reminder, error) {
	if err := spec.Validate(); err != nil {
		return Reminder{}, err
	}
	if !origin.Valid() {
		return Reminder{}, fmt.Errorf("%w: origin %q", ErrInvalidReminder, origin)
	}
	tags := spec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return Reminder{}, fmt.Errorf("encoding tags: %w", err)
	}

	row, err := s.db.InsertReminder(ctx, storage.Reminder{
		SubjectID:  spec.SubjectID,
		Content:    spec.Content,
		Severity:   string(spec.Severity),
		DueAt:      spec.DueAt,
		RepeatRule: spec.RepeatRule,
		Status:     string(StatusPending),
		Tags:       string(tagsJSON),
		Origin:     string(origin),
		CreatedAt:  s.now(),
	})
	if err != nil {
		return Reminder{}, fmt.Errorf("creating reminder: %w", err)
	}
	r := s.fromRow(row)
	s.metrics.ReminderCreated(string(r.Severity))
	s.logger.Info("reminder created", "reminder_id", r.ID, "severity", r.Severity, "due_time", r.DueAt, "origin", origin)

	s.publishIfLocal(ctx, EventCreated, r, origin)
	return r, nil
}

// UpdateStatus moves reminder id to status if that advances it. A move to an
// equal or lower rank, or out of a terminal state, leaves the reminder alone
// and returns Changed=false with a nil error.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status, origin Origin) (Transition, error) {
	if !status.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if !origin.Valid() {
		return Transition{}, fmt.Errorf("%w: origin %q", ErrInvalidReminder, origin)
	}

	unlock := s.locks.Lock(id)
	var from Status
	row, changed, err := s.db.UpdateReminderStatus(ctx, id, func(cur storage.Reminder) (storage.StatusChange, bool) {
		from = Status(cur.Status)
		if !advances(from, status) {
			return storage.StatusChange{}, false
		}
		return storage.StatusChange{Status: string(status), Origin: string(origin), At: s.now()}, true
	})
	unlock()

	if errors.Is(err, storage.ErrNotFound) {
		return Transition{}, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Transition{}, fmt.Errorf("updating reminder %d: %w", id, err)
	}

	t := Transition{Reminder: s.fromRow(row), Changed: changed, From: from}
	if !changed {
		t.Reason = fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, status)
		s.metrics.TransitionSkipped(string(origin))
		s.logger.Debug("reminder status unchanged", "reminder_id", id, "from", from, "to", status, "origin", origin)
		return t, nil
	}

	s.metrics.Transition(string(status), string(origin))
	s.logger.Info("reminder status changed", "reminder_id", id, "from", from, "to", status, "origin", origin)
	s.publishIfLocal(ctx, kindFor(status), t.Reminder, origin)
	return t, nil
}

// advances reports whether moving from cur to next is a forward transition.
func advances(cur, next Status) bool {
	return next.rank() > cur.rank()
}

// TriggerDue moves every pending reminder due at or before now to triggered
// and returns the ones this call changed.
func (s *Store) TriggerDue(ctx context.Context, now time.Time) ([]Reminder, error) {
	due, err := s.db.ListDueReminders(ctx, now, 0)
	if err != nil {
		return nil, fmt.Errorf("listing due reminders: %w", err)
	}
	var fired []Reminder
	for _, r := range due {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		t, err := s.UpdateStatus(ctx, r.ID, StatusTriggered, OriginTimer)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fired, err
		}
		if t.Changed {
			fired = append(fired, t.Reminder)
		}
	}
	return fired, nil
}

// Get returns one reminder.
func (s *Store) Get(ctx context.Context, id int64) (Reminder, error) {
	row, err := s.db.GetReminder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Reminder{}, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Reminder{}, fmt.Errorf("loading reminder %d: %w", id, err)
	}
	return s.fromRow(row), nil
}

// GetByIDs returns the known reminders among ids in request order. Unknown ids
// are omitted.
func (s *Store) GetByIDs(ctx context.Context, ids []int64) ([]Reminder, error) {
	if len(ids) == 0 {
		return []Reminder{}, nil
	}
	rows, err := s.db.GetReminders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading reminders: %w", err)
	}
	return s.fromRows(rows), nil
}

// List returns reminders newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Reminder, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	rows, err := s.db.ListReminders(ctx, storage.ReminderFilter{
		SubjectID: f.SubjectID,
		Status:    string(f.Status),
		Limit:     f.Limit,
		Offset:    f.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}
	return s.fromRows(rows), nil
}

// Stats counts reminders per status. Every status is present in the result.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	counts, err := s.db.CountRemindersByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting reminders: %w", err)
	}
	out := map[Status]int{
		StatusPending:   0,
		StatusTriggered: 0,
		StatusCompleted: 0,
		StatusIgnored:   0,
	}
	for k, v := range counts {
		out[Status(k)] = v
	}
	return out, nil
}

// publishIfLocal is the only place lifecycle events leave the store. Remote
// mutations are never re-emitted. Failures are logged; the committed state
// stands.
func (s *Store) publishIfLocal(ctx context.Context, kind EventKind, r Reminder, origin Origin) {
	if origin == OriginRemote || s.pub == nil {
		return
	}
	ev := Event{
		Kind:        kind,
		Reminder:    r,
		PublishedAt: s.now(),
		Origin:      origin,
		Source:      s.source,
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	err := s.pub.Publish(pctx, ev)
	s.metrics.Publish("lifecycle", err)
	if err != nil {
		s.logger.Warn("publishing reminder event failed", "reminder_id", r.ID, "event", kind, "error", err)
	}
}
