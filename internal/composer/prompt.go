// Package composer builds the chat prompt used to generate a care message
// from an assessment, the subject profile and retrieved guidance.
package composer

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/kalambet/carewatch/internal/engine"
	"github.com/kalambet/carewatch/internal/retrieval"
	"github.com/kalambet/carewatch/internal/risk"
)

const defaultMaxContextTokens = 4000

const systemPrompt = `You are a health care assistant for an older adult living at home.
Using the health guidance, the subject profile and recent events provided,
write one short, warm care message (at most three sentences) and explain what
it is based on. Do not diagnose. Suggest contacting family or a doctor only
when the readings call for it.
Answer with a JSON object with two fields: "message" (string) and "evidence"
(array of short strings naming the readings and guidance you relied on).`

// Request is everything the composer may put into a prompt.
type Request struct {
	Assessment     risk.Assessment
	ProfileSummary string
	Chunks         []retrieval.ContextChunk
	// RecentEvents are short descriptions of the latest care events, newest first.
	RecentEvents []string
}

// Composer assembles care prompts within a token budget for injected context.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns a system message with the instructions and a user message
// with the current state followed by as much context as the budget allows.
func (c *Composer) Compose(req Request) ([]engine.Message, error) {
	state, err := json.Marshal(req.Assessment.Signals)
	if err != nil {
		return nil, fmt.Errorf("marshalling signals: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Current State]\n%s\n", state)
	fmt.Fprintf(&sb, "Risk level: %s (score %.2f)\n", req.Assessment.Level, req.Assessment.Score)
	if len(req.Assessment.Reasons) > 0 {
		fmt.Fprintf(&sb, "Reasons: %s\n", strings.Join(req.Assessment.Reasons, "; "))
	}
	sb.WriteString(c.buildEnrichment(req))

	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: sb.String()},
	}, nil
}

// Schema is the structured output the prompt asks for.
func Schema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"message":  {Type: "string"},
			"evidence": {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
		},
		Required: []string{"message", "evidence"},
	}
}

// buildEnrichment renders profile, recent events and guidance chunks,
// respecting the token budget. The profile always fits first; events and
// chunks are dropped lowest value first once the budget runs out.
func (c *Composer) buildEnrichment(req Request) string {
	var sb strings.Builder
	remaining := c.MaxContextTokens

	profile := req.ProfileSummary
	if profile == "" {
		profile = "none"
	}
	section := "\n[Subject Profile]\n" + profile + "\n"
	sb.WriteString(section)
	remaining -= EstimateTokens(section)

	if len(req.RecentEvents) > 0 {
		header := "\n[Recent Events]\n"
		remaining -= EstimateTokens(header)
		var entries []string
		for _, ev := range req.RecentEvents {
			entry := "- " + ev + "\n"
			tokens := EstimateTokens(entry)
			if tokens > remaining {
				break
			}
			entries = append(entries, entry)
			remaining -= tokens
		}
		if len(entries) > 0 {
			sb.WriteString(header)
			for _, e := range entries {
				sb.WriteString(e)
			}
		}
	}

	header := "\n[Health Guidance]\n"
	remaining -= EstimateTokens(header)
	sorted := slices.Clone(req.Chunks)
	slices.SortStableFunc(sorted, func(a, b retrieval.ContextChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	var selected []string
	for _, ch := range sorted {
		entry := formatChunk(ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	sb.WriteString(header)
	if len(selected) == 0 {
		sb.WriteString("none\n")
	}
	for _, entry := range selected {
		sb.WriteString(entry)
	}
	return sb.String()
}

func formatChunk(ch retrieval.ContextChunk) string {
	return fmt.Sprintf("(Score: %.2f, Source: %s)\n%s\n\n", ch.Score, ch.DocID, ch.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
