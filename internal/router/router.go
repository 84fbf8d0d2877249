// Package router picks a care strategy for an assessment: a reminder macro
// for high risk, a generated message for medium, a template for low.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/carewatch/internal/careplan"
	"github.com/kalambet/carewatch/internal/generation"
	"github.com/kalambet/carewatch/internal/metrics"
	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/risk"
)

// Route names the strategy a Decision took.
type Route string

const (
	RouteMacro    Route = "macro"
	RouteRAG      Route = "rag"
	RouteTemplate Route = "template"
)

// Decision is the outcome of routing one assessment.
type Decision struct {
	Route       Route            `json:"route"`
	Level       risk.Level       `json:"risk_level"`
	Assessment  risk.Assessment  `json:"assessment"`
	Message     string           `json:"message"`
	Evidence    []string         `json:"evidence,omitempty"`
	ReminderIDs []int64          `json:"reminder_ids"`
	Macros      []careplan.Macro `json:"macros,omitempty"`
	// Source names the generator behind Message on the rag and template routes.
	Source string `json:"source,omitempty"`
}

// Planner is implemented by *careplan.Engine.
type Planner interface {
	Plan(a risk.Assessment, subjectID string, now time.Time) careplan.Plan
}

// ReminderCreator is implemented by *reminders.Store.
type ReminderCreator interface {
	Create(ctx context.Context, spec reminders.Spec, origin reminders.Origin) (reminders.Reminder, error)
}

// Router dispatches assessments for one subject.
type Router struct {
	planner   Planner
	store     ReminderCreator
	rag       generation.Generator
	template  generation.Generator
	subjectID string
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Router. rag is wrapped in a Fallback to the elevated-risk
// template, so the medium route never fails; a nil rag always uses it.
func New(planner Planner, store ReminderCreator, rag generation.Generator, subjectID string, m *metrics.Metrics) *Router {
	return &Router{
		planner:   planner,
		store:     store,
		rag:       generation.NewFallback(rag, generation.ElevatedGenerator{}, m),
		template:  generation.TemplateGenerator{},
		subjectID: subjectID,
		metrics:   m,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Route acts on a.Level as given. Only the macro route can fail, when a
// reminder cannot be stored; reminders created before the failure remain.
func (r *Router) Route(ctx context.Context, a risk.Assessment) (Decision, error) {
	var (
		d   Decision
		err error
	)
	switch a.Level {
	case risk.LevelHigh:
		d, err = r.macro(ctx, a)
	case risk.LevelMedium:
		d = r.generate(ctx, RouteRAG, r.rag, a)
	default:
		d = r.generate(ctx, RouteTemplate, r.template, a)
	}
	if err != nil {
		return d, err
	}

	r.metrics.Route(string(d.Route), string(a.Level))
	r.logger.Info("assessment routed",
		"route", d.Route,
		"level", a.Level,
		"score", a.Score,
		"reminders", len(d.ReminderIDs),
	)
	return d, nil
}

func (r *Router) macro(ctx context.Context, a risk.Assessment) (Decision, error) {
	plan := r.planner.Plan(a, r.subjectID, r.now())
	d := Decision{
		Route:       RouteMacro,
		Level:       a.Level,
		Assessment:  a,
		Message:     plan.Message,
		Evidence:    a.Reasons,
		ReminderIDs: make([]int64, 0, len(plan.Specs)),
		Macros:      plan.Macros,
	}
	for _, spec := range plan.Specs {
		rem, err := r.store.Create(ctx, spec, reminders.OriginLocal)
		if err != nil {
			return d, fmt.Errorf("creating %s reminder: %w", spec.Severity, err)
		}
		d.ReminderIDs = append(d.ReminderIDs, rem.ID)
	}
	return d, nil
}

func (r *Router) generate(ctx context.Context, route Route, g generation.Generator, a risk.Assessment) Decision {
	// Fallback and TemplateGenerator never return an error.
	res, _ := g.Generate(ctx, generation.CareContext{SubjectID: r.subjectID, Assessment: a})
	return Decision{
		Route:       route,
		Level:       a.Level,
		Assessment:  a,
		Message:     res.Message,
		Evidence:    res.Evidence,
		ReminderIDs: []int64{},
		Source:      res.Source,
	}
}
