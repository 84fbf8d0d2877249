// Package peersync applies lifecycle events published by remote peers to the
// local reminder store. It never publishes.
package peersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/carewatch/internal/metrics"
	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/transport"
)

// StatusUpdater is the part of the reminder store Sync needs.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id int64, status reminders.Status, origin reminders.Origin) (reminders.Transition, error)
	Get(ctx context.Context, id int64) (reminders.Reminder, error)
	// Source is the id the store stamps on its own outbound events.
	Source() string
}

// Result labels the outcome of handling one inbound message.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultOwnEvent  Result = "own_event"
	ResultMismatch  Result = "mismatch"
	ResultNotFound  Result = "not_found"
	ResultMalformed Result = "malformed"
	ResultError     Result = "error"
)

const defaultConcurrency = 8

// Sync consumes the lifecycle topic.
type Sync struct {
	sub         transport.Subscriber
	topic       string
	store       StatusUpdater
	metrics     *metrics.Metrics
	concurrency int64
	logger      *slog.Logger
}

// New creates a Sync. If concurrency is <= 0, it defaults to 8 handlers.
func New(sub transport.Subscriber, topic string, store StatusUpdater, m *metrics.Metrics, concurrency int) *Sync {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Sync{
		sub:         sub,
		topic:       topic,
		store:       store,
		metrics:     m,
		concurrency: int64(concurrency),
		logger:      slog.Default(),
	}
}

// Run subscribes and handles messages until ctx is cancelled or the
// subscription closes. Handlers in flight are allowed to finish.
func (s *Sync) Run(ctx context.Context) error {
	msgs, err := s.sub.Subscribe(ctx, s.topic)
	if err != nil {
		return fmt.Errorf("subscribing to lifecycle events: %w", err)
	}
	s.logger.Info("reminder sync started", "topic", s.topic)

	sem := semaphore.NewWeighted(s.concurrency)
	// Handlers outlive a cancelled ctx long enough to finish their write.
	hctx := context.WithoutCancel(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-msgs:
			if !ok {
				break loop
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				break loop
			}
			go func() {
				defer sem.Release(1)
				s.Handle(hctx, msg.Payload)
			}()
		}
	}

	// Wait for every handler to release its slot.
	_ = sem.Acquire(context.Background(), s.concurrency)
	s.logger.Info("reminder sync stopped")
	return nil
}

// Handle applies one raw payload and reports what happened. Applying the same
// payload again yields ResultDuplicate and leaves the store unchanged.
func (s *Sync) Handle(ctx context.Context, payload []byte) Result {
	res := s.handle(ctx, payload)
	s.metrics.SyncEvent(string(res))
	return res
}

func (s *Sync) handle(ctx context.Context, payload []byte) Result {
	ev, err := reminders.DecodeEvent(payload)
	if err != nil {
		s.logger.Warn("ignoring malformed lifecycle event", "error", err)
		return ResultMalformed
	}
	if src := s.store.Source(); src != "" && ev.Source == src {
		s.logger.Debug("skipping own lifecycle event", "reminder_id", ev.Reminder.ID, "event", ev.Kind)
		return ResultOwnEvent
	}
	status, _ := ev.Kind.Status()

	local, err := s.store.Get(ctx, ev.Reminder.ID)
	if err == nil && !sameReminder(local, ev.Reminder) {
		s.logger.Warn("lifecycle event does not match the local reminder",
			"reminder_id", ev.Reminder.ID, "event", ev.Kind, "source", ev.Source,
			"user_id", ev.Reminder.SubjectID, "local_user_id", local.SubjectID)
		return ResultMismatch
	}

	t, err := s.store.UpdateStatus(ctx, ev.Reminder.ID, status, reminders.OriginRemote)
	switch {
	case errors.Is(err, reminders.ErrNotFound):
		s.logger.Info("lifecycle event for unknown reminder", "reminder_id", ev.Reminder.ID, "event", ev.Kind, "source", ev.Source)
		return ResultNotFound
	case err != nil:
		s.logger.Warn("applying lifecycle event failed", "reminder_id", ev.Reminder.ID, "event", ev.Kind, "error", err)
		return ResultError
	case !t.Changed:
		s.logger.Debug("lifecycle event already applied", "reminder_id", ev.Reminder.ID, "event", ev.Kind, "status", t.Reminder.Status)
		return ResultDuplicate
	}
	s.logger.Info("applied remote lifecycle event", "reminder_id", ev.Reminder.ID, "from", t.From, "to", status, "source", ev.Source)
	return ResultApplied
}

// sameReminder reports whether a peer's snapshot describes the local row with
// the same id. Ids are assigned per database, so a peer with its own store can
// reuse one. Fields the peer left empty are not compared.
func sameReminder(local, remote reminders.Reminder) bool {
	if remote.SubjectID != "" && remote.SubjectID != local.SubjectID {
		return false
	}
	if !remote.CreatedAt.IsZero() && !remote.CreatedAt.Truncate(time.Second).Equal(local.CreatedAt.Truncate(time.Second)) {
		return false
	}
	return true
}
