package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/carewatch/internal/composer"
	"github.com/kalambet/carewatch/internal/retrieval"
	"github.com/kalambet/carewatch/internal/risk"
	"github.com/kalambet/carewatch/internal/storage"
)

type mockRetriever struct {
	chunks []retrieval.ContextChunk
	err    error
	query  string
	topK   int
}

func (m *mockRetriever) Retrieve(_ context.Context, query string, topK int) ([]retrieval.ContextChunk, error) {
	m.query, m.topK = query, topK
	return m.chunks, m.err
}

type mockProfile struct {
	summary string
	err     error
}

func (m mockProfile) GetSummary() (string, error) { return m.summary, m.err }

type mockHistory struct {
	lines []string
	err   error
}

func (m mockHistory) Recent(context.Context, int) ([]string, error) { return m.lines, m.err }

func heatAssessment() risk.Assessment {
	return risk.Assessment{
		Level:   risk.LevelMedium,
		Score:   5,
		Signals: risk.Signals{TemperatureC: 32, HumidityPct: 88},
		Reasons: []string{"temperature 32.0°C", "humidity 88%"},
	}
}

func TestEnrich_AllSources(t *testing.T) {
	ret := &mockRetriever{chunks: []retrieval.ContextChunk{{ID: "c1", DocID: "heat", Text: "Drink water.", Score: 0.8}}}
	e := NewEnricher(ret, mockProfile{summary: "Subject: Mrs. Chan."}, mockHistory{lines: []string{"earlier: rested"}}, composer.New(0), 0)

	msgs, meta, err := e.Enrich(context.Background(), heatAssessment())
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if ret.topK != defaultTopK {
		t.Errorf("topK = %d, want %d", ret.topK, defaultTopK)
	}
	if ret.query != "temperature 32.0°C; humidity 88%" {
		t.Errorf("query = %q", ret.query)
	}
	if len(meta.ChunksUsed) != 1 || meta.ChunksUsed[0] != "c1" {
		t.Errorf("chunks used = %v", meta.ChunksUsed)
	}
	user := msgs[len(msgs)-1].Content
	for _, want := range []string{"Drink water.", "Mrs. Chan", "earlier: rested"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestEnrich_DegradesPerSource(t *testing.T) {
	e := NewEnricher(
		&mockRetriever{err: errors.New("embed failed")},
		mockProfile{err: errors.New("db locked")},
		mockHistory{err: errors.New("db locked")},
		nil, 2,
	)

	msgs, meta, err := e.Enrich(context.Background(), heatAssessment())
	if err != nil {
		t.Fatalf("Enrich should degrade, got %v", err)
	}
	if len(meta.ChunksUsed) != 0 {
		t.Errorf("chunks used = %v", meta.ChunksUsed)
	}
	if !strings.Contains(msgs[1].Content, "temperature 32.0°C") {
		t.Error("prompt should still carry the assessment")
	}
}

func TestEnrich_NilCollaborators(t *testing.T) {
	msgs, _, err := NewEnricher(nil, nil, nil, nil, 0).Enrich(context.Background(), risk.Assessment{Level: risk.LevelMedium})
	if err != nil || len(msgs) != 2 {
		t.Fatalf("got %d msgs, err %v", len(msgs), err)
	}
}

func TestQuery_GeneralWhenNoReasons(t *testing.T) {
	if got := Query(risk.Assessment{}); got != generalQuery {
		t.Errorf("Query = %q", got)
	}
}

func TestEventHistory_Recent(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	base := time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)
	events := []storage.CareEvent{
		{ID: "e1", Kind: "routing_result", SubjectID: "user_001", Payload: `{"route":"template","level":"low","message":"Steady day."}`, CreatedAt: base},
		{ID: "e2", Kind: "routing_request", SubjectID: "user_001", Payload: `{"level":"medium"}`, CreatedAt: base.Add(time.Minute)},
		{ID: "e3", Kind: "routing_result", SubjectID: "user_001", Payload: `{"route":"rag","level":"medium","message":"Rest indoors."}`, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "e4", Kind: "routing_result", SubjectID: "user_001", Payload: `not json`, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, ev := range events {
		if err := db.AppendCareEvent(ctx, ev); err != nil {
			t.Fatalf("AppendCareEvent: %v", err)
		}
	}

	lines, err := NewEventHistory(db).Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	want := []string{
		"2025-07-14 09:02 rag/medium: Rest indoors.",
		"2025-07-14 09:00 template/low: Steady day.",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}
