package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEventEncode_WireShape(t *testing.T) {
	ev := Event{
		Kind: EventTriggered,
		Reminder: Reminder{
			ID:        7,
			SubjectID: "user_001",
			Content:   "Take blood pressure",
			Severity:  SeverityMedium,
			DueAt:     testNow,
			Status:    StatusTriggered,
			CreatedAt: testNow.Add(-time.Hour),
		},
		PublishedAt: testNow,
		Origin:      OriginTimer,
		Source:      "node-a",
	}

	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	for _, key := range []string{"event", "reminder", "published_at", "source"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing top-level key %q in %s", key, data)
		}
	}
	r := m["reminder"].(map[string]any)
	for _, key := range []string{"id", "user_id", "content", "severity", "due_time", "status", "tags", "created_at"} {
		if _, ok := r[key]; !ok {
			t.Errorf("missing reminder key %q in %s", key, data)
		}
	}
	if tags, ok := r["tags"].([]any); !ok || len(tags) != 0 {
		t.Errorf("tags = %#v, want empty array", r["tags"])
	}
}

func TestDecodeEvent_RoundTripsOwnOutput(t *testing.T) {
	want := Event{
		Kind:        EventCompleted,
		Reminder:    Reminder{ID: 3, SubjectID: "user_001", Content: "Rest", Severity: SeverityHigh, DueAt: testNow, Status: StatusCompleted, Tags: []string{"sleep"}, CreatedAt: testNow},
		PublishedAt: testNow,
		Origin:      OriginLocal,
		Source:      "watch-1",
	}
	data, _ := want.Encode()

	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if got.Kind != want.Kind || got.Reminder.ID != 3 || !got.Reminder.DueAt.Equal(testNow) || got.Source != "watch-1" {
		t.Errorf("decoded = %+v", got)
	}
	if len(got.Reminder.Tags) != 1 || got.Reminder.Tags[0] != "sleep" {
		t.Errorf("tags = %v", got.Reminder.Tags)
	}
}

func TestDecodeEvent_LegacyPayload(t *testing.T) {
	payload := `{"event":"completed","reminder":{"id":12,"user_id":"user_001","content":"补水","severity":"high",
		"due_time":"2025-07-14T09:30:00.123456","repeat_rule":null,"status":"completed","tags":"heat, hydration",
		"created_at":"2025-07-14 09:00:00","type":"reminder"},"published_at":"2025-07-14T09:31:00.5","source":"watch-1"}`

	ev, err := DecodeEvent([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Reminder.ID != 12 || ev.Kind != EventCompleted {
		t.Fatalf("decoded = %+v", ev)
	}
	wantDue := time.Date(2025, 7, 14, 9, 30, 0, 123456000, time.UTC)
	if !ev.Reminder.DueAt.Equal(wantDue) {
		t.Errorf("due = %v, want %v", ev.Reminder.DueAt, wantDue)
	}
	if len(ev.Reminder.Tags) != 2 || ev.Reminder.Tags[1] != "hydration" {
		t.Errorf("tags = %v", ev.Reminder.Tags)
	}
	if ev.Reminder.CreatedAt.IsZero() {
		t.Error("space-separated created_at not parsed")
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":      `{"event":`,
		"unknown kind":  `{"event":"snoozed","reminder":{"id":1}}`,
		"no reminder":   `{"event":"completed"}`,
		"zero id":       `{"event":"completed","reminder":{"id":0}}`,
		"string id":     `{"event":"completed","reminder":{"id":"abc"}}`,
		"array payload": `[1,2,3]`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeEvent([]byte(payload)); !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("err = %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestEventKindStatus(t *testing.T) {
	tests := map[EventKind]Status{
		EventCreated:   StatusPending,
		"pending":      StatusPending,
		EventTriggered: StatusTriggered,
		EventCompleted: StatusCompleted,
		EventIgnored:   StatusIgnored,
	}
	for kind, want := range tests {
		got, ok := kind.Status()
		if !ok || got != want {
			t.Errorf("%s.Status() = %s, %v", kind, got, ok)
		}
	}
	if _, ok := EventKind("deleted").Status(); ok {
		t.Error("unknown kind mapped to a status")
	}
}

type rawRecorder struct {
	topic   string
	payload []byte
}

func (r *rawRecorder) Publish(_ context.Context, topic string, payload []byte) error {
	r.topic, r.payload = topic, payload
	return nil
}

func TestTopicPublisher(t *testing.T) {
	raw := &rawRecorder{}
	p := NewTopicPublisher(raw, "ierg6200/health/reminders")

	if err := p.Publish(context.Background(), Event{Kind: EventCreated, Reminder: Reminder{ID: 5}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if raw.topic != "ierg6200/health/reminders" {
		t.Errorf("topic = %q", raw.topic)
	}
	ev, err := DecodeEvent(raw.payload)
	if err != nil || ev.Reminder.ID != 5 {
		t.Errorf("payload did not decode: %v %+v", err, ev)
	}
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("socket closed")}
	ok := &recordingPublisher{}

	err := Fanout{failing, nil, ok}.Publish(context.Background(), Event{Kind: EventCreated})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.Events()) != 1 || len(failing.Events()) != 1 {
		t.Error("fanout skipped a sink")
	}
}
