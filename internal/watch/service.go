// Package watch serves the wearable front-end: it snapshots signals, routes
// the assessment, logs the outcome and publishes the watch payload.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/carewatch/internal/generation"
	"github.com/kalambet/carewatch/internal/metrics"
	"github.com/kalambet/carewatch/internal/profile"
	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/risk"
	"github.com/kalambet/carewatch/internal/router"
	"github.com/kalambet/carewatch/internal/signals"
	"github.com/kalambet/carewatch/internal/storage"
	"github.com/kalambet/carewatch/internal/transport"
)

const (
	defaultPublishTimeout = 5 * time.Second

	EventRoutingRequest = "routing_request"
	EventRoutingResult  = "routing_result"
)

// SnapshotProvider is implemented by *signals.Provider.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (risk.Signals, signals.Weather)
}

// Evaluator is implemented by *risk.Evaluator.
type Evaluator interface {
	Evaluate(s risk.Signals) risk.Assessment
}

// DecisionRouter is implemented by *router.Router.
type DecisionRouter interface {
	Route(ctx context.Context, a risk.Assessment) (router.Decision, error)
}

// ReminderLookup is implemented by *reminders.Store.
type ReminderLookup interface {
	GetByIDs(ctx context.Context, ids []int64) ([]reminders.Reminder, error)
}

// CareLog is implemented by *storage.Store.
type CareLog interface {
	AppendCareEvent(ctx context.Context, e storage.CareEvent) error
	SaveRouteRecord(ctx context.Context, r storage.RouteRecord) error
}

// ProfileReader is implemented by *profile.Manager.
type ProfileReader interface {
	GetProfile() (profile.Profile, error)
}

// Deps wires a Service. Provider, Log, Output and Profile are optional.
type Deps struct {
	Provider  SnapshotProvider
	Evaluator Evaluator
	Router    DecisionRouter
	Reminders ReminderLookup
	Log       CareLog
	Profile   ProfileReader
	Metrics   *metrics.Metrics

	// Output receives the watch payload on OutputTopic.
	Output         transport.Publisher
	OutputTopic    string
	PublishTimeout time.Duration

	SubjectID string
	// UserName is shown when the profile has no name.
	UserName string
}

// Service runs one assessment per call.
type Service struct {
	deps   Deps
	now    func() time.Time
	logger *slog.Logger
}

func NewService(deps Deps) *Service {
	if deps.PublishTimeout <= 0 {
		deps.PublishTimeout = defaultPublishTimeout
	}
	return &Service{deps: deps, now: time.Now, logger: slog.Default()}
}

// State snapshots signals for scenario (live readings or a canned demo),
// then evaluates, routes, logs and publishes.
func (s *Service) State(ctx context.Context, scenario Scenario) (Response, error) {
	now := s.now().UTC()
	var (
		sig     risk.Signals
		weather signals.Weather
		notes   string
	)
	if demo, ok := demos[scenario]; ok {
		sig, weather = demo.signals(now)
		notes = demo.notes
	} else {
		scenario = ScenarioLive
		if s.deps.Provider != nil {
			sig, weather = s.deps.Provider.Snapshot(ctx)
		}
		notes = "live readings"
	}
	return s.run(ctx, scenario, sig, weather, notes)
}

// Assess runs the same flow for a caller-supplied snapshot.
func (s *Service) Assess(ctx context.Context, sig risk.Signals) (Response, error) {
	if sig.CapturedAt.IsZero() {
		sig.CapturedAt = s.now().UTC()
	}
	if sig.Warnings == nil {
		sig.Warnings = []string{}
	}
	temp, hum := sig.TemperatureC, sig.HumidityPct
	weather := signals.Weather{TemperatureC: &temp, HumidityPct: &hum, Warnings: sig.Warnings}
	return s.run(ctx, ScenarioManual, sig, weather, "submitted snapshot")
}

func (s *Service) run(ctx context.Context, scenario Scenario, sig risk.Signals, weather signals.Weather, notes string) (Response, error) {
	a := s.deps.Evaluator.Evaluate(sig)

	s.appendEvent(ctx, EventRoutingRequest, map[string]any{
		"scenario": scenario,
		"level":    a.Level,
		"score":    a.Score,
		"reasons":  a.Reasons,
	})

	d, err := s.deps.Router.Route(ctx, a)
	if err != nil {
		return Response{}, fmt.Errorf("routing assessment: %w", err)
	}

	s.appendEvent(ctx, EventRoutingResult, map[string]any{
		"route":        d.Route,
		"level":        d.Level,
		"message":      d.Message,
		"reminder_ids": d.ReminderIDs,
		"source":       d.Source,
	})
	s.saveRouteRecord(ctx, scenario, sig, d)

	out, err := s.buildOutput(ctx, d, weather)
	if err != nil {
		return Response{}, err
	}
	s.publish(ctx, out)

	return Response{
		UserName: s.userName(),
		State:    newState(s.deps.SubjectID, scenario, sig, weather, notes),
		Output:   out,
	}, nil
}

// buildOutput drops evidence, unwraps JSON model output to its message,
// expands reminder ids and attaches the weather.
func (s *Service) buildOutput(ctx context.Context, d router.Decision, weather signals.Weather) (Output, error) {
	msg, _ := generation.ExtractMessage(d.Message)
	out := Output{
		Route:     string(d.Route),
		RiskLevel: string(d.Level),
		Message:   msg,
		Reminders: []ReminderEntry{},
		Weather:   newWeatherState(weather),
	}
	if len(d.ReminderIDs) == 0 {
		return out, nil
	}
	rems, err := s.deps.Reminders.GetByIDs(ctx, d.ReminderIDs)
	if err != nil {
		return Output{}, fmt.Errorf("loading routed reminders: %w", err)
	}
	for _, r := range rems {
		out.Reminders = append(out.Reminders, newReminderEntry(r))
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, out Output) {
	if s.deps.Output == nil || s.deps.OutputTopic == "" {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("encoding watch output", "error", err)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.PublishTimeout)
	defer cancel()
	err = s.deps.Output.Publish(pctx, s.deps.OutputTopic, payload)
	s.deps.Metrics.Publish("output", err)
	if err != nil {
		s.logger.Warn("publishing watch output failed", "topic", s.deps.OutputTopic, "error", err)
	}
}

func (s *Service) appendEvent(ctx context.Context, kind string, payload map[string]any) {
	if s.deps.Log == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encoding care event", "kind", kind, "error", err)
		return
	}
	err = s.deps.Log.AppendCareEvent(ctx, storage.CareEvent{
		Kind:      kind,
		SubjectID: s.deps.SubjectID,
		Payload:   string(b),
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("recording care event failed", "kind", kind, "error", err)
	}
}

func (s *Service) saveRouteRecord(ctx context.Context, scenario Scenario, sig risk.Signals, d router.Decision) {
	if s.deps.Log == nil {
		return
	}
	ids, _ := json.Marshal(d.ReminderIDs)
	sj, _ := json.Marshal(sig)
	err := s.deps.Log.SaveRouteRecord(ctx, storage.RouteRecord{
		ID:          uuid.New().String(),
		CreatedAt:   s.now().UTC(),
		SubjectID:   s.deps.SubjectID,
		Scenario:    string(scenario),
		Level:       string(d.Level),
		Score:       d.Assessment.Score,
		Route:       string(d.Route),
		Message:     d.Message,
		ReminderIDs: string(ids),
		Signals:     string(sj),
	})
	if err != nil {
		s.logger.Warn("recording route failed", "error", err)
	}
}

func (s *Service) userName() string {
	if s.deps.Profile != nil {
		p, err := s.deps.Profile.GetProfile()
		if err != nil {
			s.logger.Warn("loading profile for user name", "error", err)
		} else if strings.TrimSpace(p.Name) != "" {
			return p.Name
		}
	}
	return s.deps.UserName
}
