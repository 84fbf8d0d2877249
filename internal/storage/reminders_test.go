package storage

import (
	"context"
	"sync"
	"testing"
	"time"
)

func insertTestReminder(t *testing.T, s *Store, due time.Time) Reminder {
	t.Helper()
	r, err := s.InsertReminder(context.Background(), Reminder{
		SubjectID: "user_001",
		Content:   "Drink 500ml of water",
		Severity:  "high",
		DueAt:     due,
		Tags:      `["heat","hydration"]`,
		Origin:    "local",
	})
	if err != nil {
		t.Fatalf("InsertReminder: %v", err)
	}
	return r
}

func TestInsertReminder_AssignsMonotonicIDs(t *testing.T) {
	s := openTestStore(t)
	due := time.Now().Add(time.Hour)

	a := insertTestReminder(t, s, due)
	b := insertTestReminder(t, s, due)

	if a.ID <= 0 {
		t.Fatalf("first id = %d, want > 0", a.ID)
	}
	if b.ID <= a.ID {
		t.Errorf("ids not increasing: %d then %d", a.ID, b.ID)
	}
	if a.Status != "pending" {
		t.Errorf("status = %q, want pending", a.Status)
	}
}

func TestInsertReminder_RecordsCareEvent(t *testing.T) {
	s := openTestStore(t)
	r := insertTestReminder(t, s, time.Now())

	events, err := s.ListCareEvents(context.Background(), CareEventFilter{ReminderID: r.ID})
	if err != nil {
		t.Fatalf("ListCareEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "reminder_created" {
		t.Fatalf("events = %+v, want one reminder_created", events)
	}
}

func TestGetReminder_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	due := time.Date(2025, 7, 1, 14, 30, 0, 0, time.UTC)
	want := insertTestReminder(t, s, due)

	got, err := s.GetReminder(context.Background(), want.ID)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if !got.DueAt.Equal(due) {
		t.Errorf("DueAt = %v, want %v", got.DueAt, due)
	}
	if got.Tags != `["heat","hydration"]` {
		t.Errorf("Tags = %q", got.Tags)
	}
	if got.Content != want.Content || got.Severity != "high" || got.SubjectID != "user_001" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestGetReminder_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetReminder(context.Background(), 42); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetReminders_OmitsUnknownAndKeepsOrder(t *testing.T) {
	s := openTestStore(t)
	a := insertTestReminder(t, s, time.Now())
	b := insertTestReminder(t, s, time.Now())

	got, err := s.GetReminders(context.Background(), []int64{b.ID, 999, a.ID})
	if err != nil {
		t.Fatalf("GetReminders: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d reminders, want 2", len(got))
	}
	if got[0].ID != b.ID || got[1].ID != a.ID {
		t.Errorf("order = [%d %d], want [%d %d]", got[0].ID, got[1].ID, b.ID, a.ID)
	}
}

func TestListDueReminders(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	past := insertTestReminder(t, s, now.Add(-time.Minute))
	insertTestReminder(t, s, now.Add(time.Hour))

	due, err := s.ListDueReminders(context.Background(), now, 0)
	if err != nil {
		t.Fatalf("ListDueReminders: %v", err)
	}
	if len(due) != 1 || due[0].ID != past.ID {
		t.Fatalf("due = %+v, want only reminder %d", due, past.ID)
	}
}

func TestUpdateReminderStatus_AppliesDecision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := insertTestReminder(t, s, time.Now())

	updated, changed, err := s.UpdateReminderStatus(ctx, r.ID, func(cur Reminder) (StatusChange, bool) {
		if cur.Status != "pending" {
			t.Errorf("decide saw status %q, want pending", cur.Status)
		}
		return StatusChange{Status: "triggered", Origin: "timer"}, true
	})
	if err != nil {
		t.Fatalf("UpdateReminderStatus: %v", err)
	}
	if !changed || updated.Status != "triggered" || updated.Origin != "timer" {
		t.Fatalf("updated = %+v changed = %v", updated, changed)
	}

	events, err := s.ListCareEvents(ctx, CareEventFilter{Kind: "reminder_status"})
	if err != nil {
		t.Fatalf("ListCareEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d reminder_status events, want 1", len(events))
	}
}

func TestUpdateReminderStatus_DeclinedLeavesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := insertTestReminder(t, s, time.Now())

	_, changed, err := s.UpdateReminderStatus(ctx, r.ID, func(Reminder) (StatusChange, bool) {
		return StatusChange{}, false
	})
	if err != nil {
		t.Fatalf("UpdateReminderStatus: %v", err)
	}
	if changed {
		t.Error("changed = true for a declined decision")
	}
	got, _ := s.GetReminder(ctx, r.ID)
	if got.Status != "pending" {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestUpdateReminderStatus_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.UpdateReminderStatus(context.Background(), 7, func(Reminder) (StatusChange, bool) {
		t.Error("decide called for a missing reminder")
		return StatusChange{}, false
	})
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// TestUpdateReminderStatus_ConcurrentSingleWinner races many writers that
// all want pending->triggered; only one may observe "pending".
func TestUpdateReminderStatus_ConcurrentSingleWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := insertTestReminder(t, s, time.Now())

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.UpdateReminderStatus(ctx, r.ID, func(cur Reminder) (StatusChange, bool) {
				return StatusChange{Status: "triggered", Origin: "timer"}, cur.Status == "pending"
			})
			if err != nil {
				t.Errorf("UpdateReminderStatus: %v", err)
				return
			}
			if changed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestListRemindersAndCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := insertTestReminder(t, s, time.Now())
	insertTestReminder(t, s, time.Now())
	s.UpdateReminderStatus(ctx, a.ID, func(Reminder) (StatusChange, bool) {
		return StatusChange{Status: "completed", Origin: "local"}, true
	})

	pending, err := s.ListReminders(ctx, ReminderFilter{Status: "pending"})
	if err != nil {
		t.Fatalf("ListReminders: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}

	counts, err := s.CountRemindersByStatus(ctx)
	if err != nil {
		t.Fatalf("CountRemindersByStatus: %v", err)
	}
	if counts["pending"] != 1 || counts["completed"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
