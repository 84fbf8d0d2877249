package reminders

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/carewatch/internal/storage"
)

var testNow = time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func newTestStore(t *testing.T) (*Store, *recordingPublisher, *storage.Store) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pub := &recordingPublisher{}
	s := NewStore(db, pub, nil, "node-a")
	s.now = func() time.Time { return testNow }
	return s, pub, db
}

func hydrationSpec(due time.Time) Spec {
	return Spec{
		SubjectID: "user_001",
		Content:   "Drink a glass of water",
		Severity:  SeverityHigh,
		DueAt:     due,
		Tags:      []string{"heat", "hydration"},
	}
}

func TestCreate_PublishesCreated(t *testing.T) {
	s, pub, _ := newTestStore(t)

	r, err := s.Create(context.Background(), hydrationSpec(testNow.Add(30*time.Minute)), OriginLocal)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID <= 0 || r.Status != StatusPending {
		t.Fatalf("created reminder = %+v", r)
	}

	events := pub.Events()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != EventCreated || ev.Reminder.ID != r.ID || ev.Source != "node-a" || ev.Origin != OriginLocal {
		t.Errorf("event = %+v", ev)
	}
}

func TestCreate_RemoteOriginDoesNotPublish(t *testing.T) {
	s, pub, _ := newTestStore(t)

	if _, err := s.Create(context.Background(), hydrationSpec(testNow), OriginRemote); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n := len(pub.Events()); n != 0 {
		t.Errorf("published %d events for a remote create", n)
	}
}

func TestCreate_RejectsInvalidSpec(t *testing.T) {
	s, pub, _ := newTestStore(t)

	spec := hydrationSpec(testNow)
	spec.Content = ""
	if _, err := s.Create(context.Background(), spec, OriginLocal); !errors.Is(err, ErrInvalidReminder) {
		t.Errorf("err = %v, want ErrInvalidReminder", err)
	}
	spec = hydrationSpec(testNow)
	spec.Severity = "urgent"
	if _, err := s.Create(context.Background(), spec, OriginLocal); !errors.Is(err, ErrInvalidReminder) {
		t.Errorf("err = %v, want ErrInvalidReminder", err)
	}
	if len(pub.Events()) != 0 {
		t.Error("rejected create was published")
	}
}

func TestUpdateStatus_Monotonic(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		steps   []Status
		final   Status
		changes int
	}{
		{"forward chain", []Status{StatusTriggered, StatusCompleted}, StatusCompleted, 2},
		{"pending straight to completed", []Status{StatusCompleted}, StatusCompleted, 1},
		{"back to pending is a no-op", []Status{StatusTriggered, StatusPending}, StatusTriggered, 1},
		{"same status twice", []Status{StatusTriggered, StatusTriggered}, StatusTriggered, 1},
		{"triggered after completed", []Status{StatusCompleted, StatusTriggered}, StatusCompleted, 1},
		{"first terminal wins", []Status{StatusIgnored, StatusCompleted}, StatusIgnored, 1},
		{"completed then ignored", []Status{StatusCompleted, StatusIgnored}, StatusCompleted, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, pub, _ := newTestStore(t)
			r, err := s.Create(ctx, hydrationSpec(testNow), OriginLocal)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}

			changes := 0
			for _, st := range tt.steps {
				tr, err := s.UpdateStatus(ctx, r.ID, st, OriginLocal)
				if err != nil {
					t.Fatalf("UpdateStatus(%s): %v", st, err)
				}
				if tr.Changed {
					changes++
				} else if !errors.Is(tr.Reason, ErrInvalidTransition) {
					t.Errorf("unchanged transition reason = %v", tr.Reason)
				}
			}

			got, err := s.Get(ctx, r.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != tt.final {
				t.Errorf("status = %s, want %s", got.Status, tt.final)
			}
			if changes != tt.changes {
				t.Errorf("changes = %d, want %d", changes, tt.changes)
			}
			// One created event plus one per committed change.
			if n := len(pub.Events()); n != 1+tt.changes {
				t.Errorf("published %d events, want %d", n, 1+tt.changes)
			}
		})
	}
}

func TestUpdateStatus_RemoteNeverPublishes(t *testing.T) {
	ctx := context.Background()
	s, pub, _ := newTestStore(t)
	r, _ := s.Create(ctx, hydrationSpec(testNow), OriginLocal)

	tr, err := s.UpdateStatus(ctx, r.ID, StatusCompleted, OriginRemote)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if !tr.Changed || tr.From != StatusPending {
		t.Fatalf("transition = %+v", tr)
	}
	if tr.Reminder.Origin != OriginRemote {
		t.Errorf("origin = %s, want remote", tr.Reminder.Origin)
	}
	if n := len(pub.Events()); n != 1 {
		t.Errorf("published %d events, want only the create", n)
	}
}

func TestUpdateStatus_ApplyingTwiceEqualsOnce(t *testing.T) {
	ctx := context.Background()
	s, _, db := newTestStore(t)
	r, _ := s.Create(ctx, hydrationSpec(testNow), OriginLocal)

	first, err := s.UpdateStatus(ctx, r.ID, StatusCompleted, OriginRemote)
	if err != nil || !first.Changed {
		t.Fatalf("first apply = %+v, %v", first, err)
	}
	second, err := s.UpdateStatus(ctx, r.ID, StatusCompleted, OriginRemote)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if second.Changed {
		t.Error("second apply changed state")
	}
	if second.Reminder.Status != first.Reminder.Status {
		t.Errorf("status drifted: %s vs %s", second.Reminder.Status, first.Reminder.Status)
	}

	events, err := db.ListCareEvents(ctx, storage.CareEventFilter{Kind: "reminder_status", ReminderID: r.ID})
	if err != nil {
		t.Fatalf("ListCareEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("status care events = %d, want 1", len(events))
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	if _, err := s.UpdateStatus(ctx, 999, StatusCompleted, OriginRemote); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
	r, _ := s.Create(ctx, hydrationSpec(testNow), OriginLocal)
	if _, err := s.UpdateStatus(ctx, r.ID, "done", OriginLocal); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status: err = %v, want ErrInvalidStatus", err)
	}
}

func TestUpdateStatus_PublishFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	s, pub, _ := newTestStore(t)
	r, _ := s.Create(ctx, hydrationSpec(testNow), OriginLocal)
	pub.err = errors.New("broker down")

	tr, err := s.UpdateStatus(ctx, r.ID, StatusTriggered, OriginLocal)
	if err != nil {
		t.Fatalf("UpdateStatus returned publish error: %v", err)
	}
	got, _ := s.Get(ctx, r.ID)
	if !tr.Changed || got.Status != StatusTriggered {
		t.Errorf("transition = %+v, stored status = %s", tr, got.Status)
	}
}

func TestUpdateStatus_ConcurrentSingleTerminalWinner(t *testing.T) {
	ctx := context.Background()
	s, pub, _ := newTestStore(t)
	r, _ := s.Create(ctx, hydrationSpec(testNow), OriginLocal)

	targets := []struct {
		status Status
		origin Origin
	}{
		{StatusTriggered, OriginTimer},
		{StatusCompleted, OriginRemote},
		{StatusIgnored, OriginLocal},
		{StatusCompleted, OriginLocal},
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		terminal int
	)
	for i := range 24 {
		tg := targets[i%len(targets)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := s.UpdateStatus(ctx, r.ID, tg.status, tg.origin)
			if err != nil {
				t.Errorf("UpdateStatus: %v", err)
				return
			}
			if tr.Changed && tr.Reminder.Status.Terminal() {
				mu.Lock()
				terminal++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if terminal != 1 {
		t.Errorf("terminal transitions = %d, want exactly 1", terminal)
	}
	got, _ := s.Get(ctx, r.ID)
	if !got.Status.Terminal() {
		t.Errorf("final status = %s, want terminal", got.Status)
	}
	for _, ev := range pub.Events() {
		if ev.Origin == OriginRemote {
			t.Errorf("remote transition was published: %+v", ev)
		}
	}
	if n := s.locks.size(); n != 0 {
		t.Errorf("lock table holds %d entries after all updates", n)
	}
}

func TestTriggerDue_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s, pub, _ := newTestStore(t)

	past, _ := s.Create(ctx, hydrationSpec(testNow.Add(-time.Minute)), OriginLocal)
	future, _ := s.Create(ctx, hydrationSpec(testNow.Add(time.Hour)), OriginLocal)

	fired, err := s.TriggerDue(ctx, testNow)
	if err != nil {
		t.Fatalf("TriggerDue: %v", err)
	}
	if len(fired) != 1 || fired[0].ID != past.ID || fired[0].Status != StatusTriggered {
		t.Fatalf("fired = %+v", fired)
	}

	again, err := s.TriggerDue(ctx, testNow)
	if err != nil {
		t.Fatalf("second TriggerDue: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second scan fired %d reminders", len(again))
	}

	got, _ := s.Get(ctx, future.ID)
	if got.Status != StatusPending {
		t.Errorf("future reminder status = %s", got.Status)
	}

	var triggered int
	for _, ev := range pub.Events() {
		if ev.Kind == EventTriggered {
			triggered++
			if ev.Origin != OriginTimer {
				t.Errorf("trigger event origin = %s, want timer", ev.Origin)
			}
		}
	}
	if triggered != 1 {
		t.Errorf("triggered events = %d, want 1", triggered)
	}
}

func TestGetByIDs_OrderAndUnknown(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	a, _ := s.Create(ctx, hydrationSpec(testNow), OriginLocal)
	b, _ := s.Create(ctx, hydrationSpec(testNow), OriginLocal)

	got, err := s.GetByIDs(ctx, []int64{b.ID, 404, a.ID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(got) != 2 || got[0].ID != b.ID || got[1].ID != a.ID {
		t.Errorf("got ids %v", ids(got))
	}
	if len(got[0].Tags) != 2 {
		t.Errorf("tags = %v", got[0].Tags)
	}

	empty, err := s.GetByIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty lookup = %v, %v", empty, err)
	}
}

func TestGet_CorruptTagsAreLogged(t *testing.T) {
	ctx := context.Background()
	s, _, db := newTestStore(t)
	var logs bytes.Buffer
	s.logger = slog.New(slog.NewTextHandler(&logs, nil))

	row, err := db.InsertReminder(ctx, storage.Reminder{
		SubjectID: "user_001",
		Content:   "Take evening medication",
		Severity:  string(SeverityMedium),
		DueAt:     testNow.Add(time.Hour),
		Tags:      `["medication"`,
		Origin:    string(OriginLocal),
	})
	if err != nil {
		t.Fatalf("InsertReminder: %v", err)
	}

	got, err := s.Get(ctx, row.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "Take evening medication" || len(got.Tags) != 0 || got.Tags == nil {
		t.Errorf("got %+v, want readable reminder with empty tags", got)
	}
	out := logs.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "decoding stored tags") {
		t.Errorf("log output = %q, want a warning about the tags", out)
	}

	if _, err := s.List(ctx, Filter{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if n := strings.Count(logs.String(), "decoding stored tags"); n != 2 {
		t.Errorf("warnings = %d, want 2", n)
	}
}

func TestListAndStats(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	a, _ := s.Create(ctx, hydrationSpec(testNow), OriginLocal)
	s.Create(ctx, hydrationSpec(testNow), OriginLocal)
	s.UpdateStatus(ctx, a.ID, StatusCompleted, OriginLocal)

	pending, err := s.List(ctx, Filter{Status: StatusPending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
	if _, err := s.List(ctx, Filter{Status: "done"}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad filter err = %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[StatusPending] != 1 || stats[StatusCompleted] != 1 || stats[StatusIgnored] != 0 {
		t.Errorf("stats = %v", stats)
	}
}

func TestDueWorker_RunOnce(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	s.Create(ctx, hydrationSpec(testNow.Add(-time.Second)), OriginLocal)

	w := NewDueWorker(s, time.Hour, nil)
	n, err := w.RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	n, _ = w.RunOnce(ctx)
	if n != 0 {
		t.Errorf("second RunOnce triggered %d", n)
	}
}

func TestDueWorker_StopsOnCancel(t *testing.T) {
	s, _, _ := newTestStore(t)
	w := NewDueWorker(s, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func ids(rs []Reminder) []int64 {
	out := make([]int64, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
