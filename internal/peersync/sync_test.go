package peersync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/storage"
	"github.com/kalambet/carewatch/internal/transport"
)

const topic = "ierg6200/health/reminders"

type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (p *countingPublisher) Publish(context.Context, reminders.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return nil
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func setup(t *testing.T) (*reminders.Store, *countingPublisher, reminders.Reminder) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pub := &countingPublisher{}
	store := reminders.NewStore(db, pub, nil, "local-node")
	r, err := store.Create(context.Background(), reminders.Spec{
		SubjectID: "user_001",
		Content:   "Check blood pressure",
		Severity:  reminders.SeverityHigh,
		DueAt:     time.Now().Add(time.Hour),
	}, reminders.OriginLocal)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return store, pub, r
}

func event(kind string, id int64) []byte {
	return fmt.Appendf(nil, `{"event":%q,"reminder":{"id":%d,"user_id":"user_001"},"published_at":"2025-07-14T09:00:00Z","source":"watch-1"}`, kind, id)
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	store, pub, r := setup(t)
	s := New(transport.NewBus(), topic, store, nil, 0)

	steps := []struct {
		payload []byte
		want    Result
		status  reminders.Status
	}{
		{[]byte("not json"), ResultMalformed, reminders.StatusPending},
		{event("completed", 999), ResultNotFound, reminders.StatusPending},
		{event("completed", r.ID), ResultApplied, reminders.StatusCompleted},
		{event("completed", r.ID), ResultDuplicate, reminders.StatusCompleted},
		{event("triggered", r.ID), ResultDuplicate, reminders.StatusCompleted},
		{event("ignored", r.ID), ResultDuplicate, reminders.StatusCompleted},
	}
	for i, st := range steps {
		if got := s.Handle(ctx, st.payload); got != st.want {
			t.Errorf("step %d: result = %s, want %s", i, got, st.want)
		}
		cur, _ := store.Get(ctx, r.ID)
		if cur.Status != st.status {
			t.Errorf("step %d: status = %s, want %s", i, cur.Status, st.status)
		}
	}
	if n := pub.count(); n != 1 {
		t.Errorf("store published %d events, want only the local create", n)
	}
}

func TestHandle_SkipsOwnEvents(t *testing.T) {
	ctx := context.Background()
	store, _, r := setup(t)
	s := New(transport.NewBus(), topic, store, nil, 0)

	own := fmt.Appendf(nil, `{"event":"completed","reminder":{"id":%d,"user_id":"user_001"},"source":"local-node"}`, r.ID)
	if got := s.Handle(ctx, own); got != ResultOwnEvent {
		t.Errorf("result = %s, want %s", got, ResultOwnEvent)
	}
	if cur, _ := store.Get(ctx, r.ID); cur.Status != reminders.StatusPending {
		t.Errorf("own event changed status to %s", cur.Status)
	}
}

func TestHandle_MismatchedSnapshotIsRejected(t *testing.T) {
	ctx := context.Background()
	store, _, r := setup(t)
	s := New(transport.NewBus(), topic, store, nil, 0)

	steps := []struct {
		name    string
		payload []byte
		want    Result
	}{
		{"other subject",
			fmt.Appendf(nil, `{"event":"completed","reminder":{"id":%d,"user_id":"user_002"},"source":"watch-1"}`, r.ID),
			ResultMismatch},
		{"other creation time",
			fmt.Appendf(nil, `{"event":"completed","reminder":{"id":%d,"user_id":"user_001","created_at":"2020-01-01T00:00:00Z"},"source":"watch-1"}`, r.ID),
			ResultMismatch},
		{"matching snapshot",
			fmt.Appendf(nil, `{"event":"completed","reminder":{"id":%d,"user_id":"user_001","created_at":%q},"source":"watch-1"}`,
				r.ID, r.CreatedAt.UTC().Format(time.RFC3339)),
			ResultApplied},
	}
	for _, st := range steps {
		if got := s.Handle(ctx, st.payload); got != st.want {
			t.Errorf("%s: result = %s, want %s", st.name, got, st.want)
		}
	}
	if cur, _ := store.Get(ctx, r.ID); cur.Status != reminders.StatusCompleted {
		t.Errorf("status = %s, want completed", cur.Status)
	}
}

func TestRun_AppliesFromBusAndStops(t *testing.T) {
	store, pub, r := setup(t)
	bus := transport.NewBus()
	s := New(bus, topic, store, nil, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Subscribing happens inside Run; retry the publish until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(ctx, topic, event("triggered", r.ID))
		cur, _ := store.Get(context.Background(), r.ID)
		if cur.Status == reminders.StatusTriggered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("remote trigger never applied")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if n := pub.count(); n != 1 {
		t.Errorf("store published %d events, want only the local create", n)
	}
}

func TestRun_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	ctx := context.Background()
	store, _, r := setup(t)
	s := New(transport.NewBus(), topic, store, nil, 4)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Handle(ctx, event("completed", r.ID)) == ResultApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
}

func TestRun_SubscribeFailure(t *testing.T) {
	bus := transport.NewBus()
	bus.Close()
	store, _, _ := setup(t)

	if err := New(bus, topic, store, nil, 1).Run(context.Background()); err == nil {
		t.Error("expected subscribe error")
	}
}
