// Package generation produces the care message for medium and low risk
// assessments, either from a chat model or from fixed templates.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/kalambet/carewatch/internal/risk"
)

// ErrGenerationUnavailable means no message could be generated right now.
// Fallback recovers from it.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// CareContext is the input to a Generator.
type CareContext struct {
	SubjectID  string
	Assessment risk.Assessment
}

// Result is a generated care message and what it was based on.
type Result struct {
	Message  string   `json:"message"`
	Evidence []string `json:"evidence"`
	// Source names the generator that produced the message.
	Source string `json:"source"`
}

// Generator produces a care message for one assessment.
type Generator interface {
	Name() string
	Generate(ctx context.Context, cc CareContext) (Result, error)
}

// ExtractMessage pulls "message" and "evidence" out of model output. It
// accepts a bare JSON object or one wrapped in a ``` fence. Anything else is
// treated as the message itself.
func ExtractMessage(text string) (message string, evidence []string) {
	text = strings.TrimSpace(text)
	body := stripFence(text)

	var out struct {
		Message  *string         `json:"message"`
		Evidence json.RawMessage `json:"evidence"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil || out.Message == nil {
		return text, nil
	}
	return strings.TrimSpace(*out.Message), parseEvidence(out.Evidence)
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// parseEvidence accepts an array of strings, a single string, or any other
// JSON value, which is kept as compact text.
func parseEvidence(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, string(it))
		}
		return out
	}
	return []string{string(raw)}
}
