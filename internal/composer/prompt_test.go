package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/carewatch/internal/retrieval"
	"github.com/kalambet/carewatch/internal/risk"
)

func mediumAssessment() risk.Assessment {
	return risk.Assessment{
		Score:   0.52,
		Level:   risk.LevelMedium,
		Signals: risk.Signals{TemperatureC: 31, HumidityPct: 85, HeartRate: 88, SleepHours: 5, Steps: 2500},
		Reasons: []string{"temperature 31.0°C", "sleep 5.0h below 6.0h"},
	}
}

func TestCompose_Shape(t *testing.T) {
	msgs, err := New(4000).Compose(Request{Assessment: mediumAssessment()})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, `"evidence"`) {
		t.Errorf("system message = %+v", msgs[0])
	}
	user := msgs[1].Content
	if msgs[1].Role != "user" {
		t.Errorf("second role = %q", msgs[1].Role)
	}
	for _, want := range []string{`"temperature":31`, "Risk level: medium", "sleep 5.0h below 6.0h", "[Subject Profile]\nnone", "[Health Guidance]\nnone"} {
		if !strings.Contains(user, want) {
			t.Errorf("user message missing %q:\n%s", want, user)
		}
	}
}

func TestCompose_ProfileAndEventsInjected(t *testing.T) {
	msgs, _ := New(4000).Compose(Request{
		Assessment:     mediumAssessment(),
		ProfileSummary: "Subject: Mrs. Chan, 78 years old.",
		RecentEvents:   []string{"reminder 4 completed", "reminder 3 triggered"},
	})
	user := msgs[1].Content
	if !strings.Contains(user, "Mrs. Chan, 78") {
		t.Errorf("profile missing: %s", user)
	}
	if !strings.Contains(user, "[Recent Events]\n- reminder 4 completed\n- reminder 3 triggered") {
		t.Errorf("events missing or out of order: %s", user)
	}
}

func TestCompose_ChunksOrderedByScore(t *testing.T) {
	msgs, _ := New(4000).Compose(Request{
		Assessment: mediumAssessment(),
		Chunks: []retrieval.ContextChunk{
			{ID: "a", DocID: "sleep-guide", Text: "Keep a regular bedtime.", Score: 0.4},
			{ID: "b", DocID: "heat-guide", Text: "Drink water every hour.", Score: 0.9},
		},
	})
	user := msgs[1].Content
	hi := strings.Index(user, "Drink water every hour.")
	lo := strings.Index(user, "Keep a regular bedtime.")
	if hi < 0 || lo < 0 || hi > lo {
		t.Errorf("chunks not ordered by score:\n%s", user)
	}
	if !strings.Contains(user, "Source: heat-guide") {
		t.Errorf("source missing:\n%s", user)
	}
}

func TestCompose_TokenBudget(t *testing.T) {
	big := strings.Repeat("x", 2000)
	c := New(700)
	msgs, _ := c.Compose(Request{
		Assessment: mediumAssessment(),
		Chunks: []retrieval.ContextChunk{
			{ID: "low", DocID: "d", Text: big + "LOW", Score: 0.2},
			{ID: "high", DocID: "d", Text: big + "HIGH", Score: 0.9},
		},
	})
	user := msgs[1].Content
	if !strings.Contains(user, "HIGH") {
		t.Error("highest scoring chunk should fit")
	}
	if strings.Contains(user, "LOW") {
		t.Error("lowest scoring chunk should be dropped over budget")
	}
}

func TestCompose_SmallChunkFillsRemainingBudget(t *testing.T) {
	c := New(600)
	msgs, _ := c.Compose(Request{
		Assessment: mediumAssessment(),
		Chunks: []retrieval.ContextChunk{
			{ID: "huge", DocID: "d", Text: strings.Repeat("y", 4000), Score: 0.9},
			{ID: "small", DocID: "d", Text: "Rest in the shade.", Score: 0.5},
		},
	})
	user := msgs[1].Content
	if strings.Contains(user, "yyyy") {
		t.Error("oversized chunk should be skipped")
	}
	if !strings.Contains(user, "Rest in the shade.") {
		t.Error("smaller chunk should still fit")
	}
}

func TestSchema(t *testing.T) {
	s := Schema()
	if s.Properties["evidence"].Items == nil || s.Properties["message"].Type != "string" {
		t.Errorf("schema = %+v", s)
	}
	if len(s.Required) != 2 {
		t.Errorf("required = %v", s.Required)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}
