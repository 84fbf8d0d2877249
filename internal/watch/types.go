package watch

import (
	"strings"
	"time"

	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/risk"
	"github.com/kalambet/carewatch/internal/signals"
)

// Scenario selects where a watch state's signals come from.
type Scenario string

const (
	ScenarioLive   Scenario = "live"
	ScenarioHigh   Scenario = "high"
	ScenarioMedium Scenario = "medium"
	ScenarioLow    Scenario = "low"
	// ScenarioManual marks snapshots submitted through Assess.
	ScenarioManual Scenario = "manual"
)

// ParseScenario maps unknown or empty values to live.
func ParseScenario(s string) Scenario {
	switch sc := Scenario(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScenarioHigh, ScenarioMedium, ScenarioLow:
		return sc
	}
	return ScenarioLive
}

// Response is what the watch front-end receives.
type Response struct {
	UserName string `json:"user_name"`
	State    State  `json:"state"`
	Output   Output `json:"output"`
}

// State is the snapshot the assessment was made from.
type State struct {
	UserID    string       `json:"user_id"`
	Timestamp time.Time    `json:"timestamp"`
	Scenario  Scenario     `json:"scenario"`
	Weather   WeatherState `json:"weather"`
	Vitals    VitalsState  `json:"vitals"`
	Notes     string       `json:"notes,omitempty"`
}

// WeatherState leaves unread readings null.
type WeatherState struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Warnings    []string `json:"warnings"`
}

type VitalsState struct {
	HeartRate float64 `json:"heart_rate"`
	Steps     int     `json:"steps"`
	Sleep     float64 `json:"sleep"`
}

// Output is the payload published on the output topic and shown on the watch.
type Output struct {
	Route     string          `json:"route"`
	RiskLevel string          `json:"risk_level"`
	Message   string          `json:"message"`
	Reminders []ReminderEntry `json:"reminders"`
	Weather   WeatherState    `json:"weather"`
}

// ReminderEntry is the watch view of a reminder.
type ReminderEntry struct {
	ID       int64     `json:"id"`
	Content  string    `json:"content"`
	Severity string    `json:"severity"`
	DueTime  time.Time `json:"due_time"`
	Status   string    `json:"status"`
	Tags     []string  `json:"tags"`
}

func newReminderEntry(r reminders.Reminder) ReminderEntry {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return ReminderEntry{
		ID:       r.ID,
		Content:  r.Content,
		Severity: string(r.Severity),
		DueTime:  r.DueAt,
		Status:   string(r.Status),
		Tags:     tags,
	}
}

func newWeatherState(w signals.Weather) WeatherState {
	warnings := w.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return WeatherState{Temperature: w.TemperatureC, Humidity: w.HumidityPct, Warnings: warnings}
}

func newState(subjectID string, scenario Scenario, sig risk.Signals, w signals.Weather, notes string) State {
	ts := sig.CapturedAt
	return State{
		UserID:    subjectID,
		Timestamp: ts,
		Scenario:  scenario,
		Weather:   newWeatherState(w),
		Vitals:    VitalsState{HeartRate: sig.HeartRate, Steps: sig.Steps, Sleep: sig.SleepHours},
		Notes:     notes,
	}
}

type demo struct {
	temperature float64
	humidity    *float64
	warnings    []string
	heartRate   float64
	steps       int
	sleep       float64
	notes       string
}

// signals renders the demo; a missing humidity reads as the neutral value.
func (d demo) signals(now time.Time) (risk.Signals, signals.Weather) {
	temp := d.temperature
	hum := float64(signals.NeutralHumidityPct)
	if d.humidity != nil {
		hum = *d.humidity
	}
	warnings := append([]string{}, d.warnings...)
	return risk.Signals{
			TemperatureC: temp,
			HumidityPct:  hum,
			Warnings:     warnings,
			HeartRate:    d.heartRate,
			SleepHours:   d.sleep,
			Steps:        d.steps,
			CapturedAt:   now,
		}, signals.Weather{
			TemperatureC: &temp,
			HumidityPct:  d.humidity,
			Warnings:     warnings,
		}
}

func ptr(f float64) *float64 { return &f }

var demos = map[Scenario]demo{
	ScenarioHigh: {
		temperature: 35, warnings: []string{"WHOT"},
		heartRate: 115, steps: 1800, sleep: 5.5,
		notes: "demo: heat warning, raised heart rate, short sleep",
	},
	ScenarioMedium: {
		temperature: 32, humidity: ptr(88),
		heartRate: 95, steps: 2000, sleep: 5.5,
		notes: "demo: warm and humid outside, subject feels tired but stays in",
	},
	ScenarioLow: {
		temperature: 24,
		heartRate:   78, steps: 2500, sleep: 7.2,
		notes: "demo: steady day, enough sleep",
	},
}
