package generation

import (
	"context"
	"slices"
	"strings"

	"github.com/kalambet/carewatch/internal/risk"
)

const (
	calmMessage     = "Things look steady today. Keep to your usual routine and drink water through the day."
	weatherMessage  = "The weather is changing a little. Please keep an eye on reminders from the system."
	activityHint    = " Some light activity helps keep your heart and lungs in shape."
	elevatedAdvice  = " Rest somewhere cool, drink water regularly and watch for reminders from the system."
	lowStepsCeiling = 3000
)

// TemplateGenerator renders a fixed message from the snapshot. It never
// fails and makes no external calls.
type TemplateGenerator struct{}

func (TemplateGenerator) Name() string { return "template" }

func (TemplateGenerator) Generate(_ context.Context, cc CareContext) (Result, error) {
	return Result{
		Message:  Template(cc.Assessment.Signals),
		Evidence: slices.Clone(cc.Assessment.Reasons),
		Source:   "template",
	}, nil
}

// Template picks the calm or weather message and adds an activity hint when
// some steps were counted but fewer than 3000.
func Template(s risk.Signals) string {
	msg := calmMessage
	if len(s.Warnings) > 0 {
		msg = weatherMessage
	}
	if s.Steps > 0 && s.Steps < lowStepsCeiling {
		msg += activityHint
	}
	return msg
}

// ElevatedGenerator renders the rule-based message for a medium-risk
// assessment, naming what raised the risk. It is the fallback on the rag
// route, so a failed model call never answers elevated risk with the calm
// message.
type ElevatedGenerator struct{}

func (ElevatedGenerator) Name() string { return "template" }

func (ElevatedGenerator) Generate(_ context.Context, cc CareContext) (Result, error) {
	return Result{
		Message:  Elevated(cc.Assessment),
		Evidence: slices.Clone(cc.Assessment.Reasons),
		Source:   "template",
	}, nil
}

// Elevated lists the assessment reasons ahead of fixed advice.
func Elevated(a risk.Assessment) string {
	if len(a.Reasons) == 0 {
		return "Risk is elevated today." + elevatedAdvice
	}
	return "Risk is elevated: " + strings.Join(a.Reasons, "; ") + "." + elevatedAdvice
}
