// Package careplan turns a high-risk assessment into a fixed set of care
// reminders. It is deterministic and performs no I/O.
package careplan

import (
	"strings"
	"time"

	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/risk"
)

// Macro names one canned response.
type Macro string

const (
	MacroHeat    Macro = "heat"
	MacroCardiac Macro = "cardiac"
	MacroSleep   Macro = "sleep"
	MacroStorm   Macro = "storm"
	MacroCold    Macro = "cold"
	MacroGeneral Macro = "general"
)

// Plan is the outcome of one macro run: the message shown to the subject and
// the reminders to create, in creation order.
type Plan struct {
	Macros  []Macro
	Message string
	Specs   []reminders.Spec
}

type step struct {
	content  string
	severity reminders.Severity
	due      func(now time.Time) time.Time
	tags     []string
}

type macro struct {
	message string
	steps   []step
}

func after(d time.Duration) func(time.Time) time.Time {
	return func(now time.Time) time.Time { return now.Add(d) }
}

// tonightAt returns the next occurrence of hour:00 in now's location.
func tonightAt(hour int) func(time.Time) time.Time {
	return func(now time.Time) time.Time {
		t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t
	}
}

var macros = map[Macro]macro{
	MacroHeat: {
		message: "Heat risk detected. Hydration and family check-in reminders are set; please act on them now and stay cool.",
		steps: []step{
			{"Drink 500 ml of water within the next hour and stay out of the midday sun", reminders.SeverityHigh, after(30 * time.Minute), []string{"heat", "hydration"}},
			{"Call a family member to confirm you are well; seek medical help if discomfort persists", reminders.SeverityHigh, after(time.Hour), []string{"family", "safety"}},
		},
	},
	MacroCardiac: {
		message: "Your heart rate is outside its usual range. Rest now; reminders to re-measure and contact family are set.",
		steps: []step{
			{"Sit down, rest for 15 minutes, then measure your heart rate again", reminders.SeverityHigh, after(15 * time.Minute), []string{"cardiac", "rest"}},
			{"If your heart rate is still unusual, call your emergency contact", reminders.SeverityHigh, after(30 * time.Minute), []string{"family", "safety"}},
		},
	},
	MacroSleep: {
		message: "Sleep has been short. Reminders to wind down early and track tonight's sleep are set.",
		steps: []step{
			{"Wind down before 22:00 with music or light stretching and get ready for an early night", reminders.SeverityMedium, tonightAt(22), []string{"sleep", "routine"}},
			{"Note how long you slept tonight and how you feel, then confirm in the morning", reminders.SeverityLow, after(12 * time.Hour), []string{"sleep", "tracking"}},
		},
	},
	MacroStorm: {
		message: "A severe weather warning is in force. Stay indoors; safety reminders are set.",
		steps: []step{
			{"Stay indoors and away from windows until the warning is lifted", reminders.SeverityHigh, after(15 * time.Minute), []string{"weather", "safety"}},
			{"Check that torch, medication and drinking water are within reach", reminders.SeverityMedium, after(time.Hour), []string{"weather", "preparedness"}},
		},
	},
	MacroCold: {
		message: "Cold weather risk detected. Reminders to keep warm are set.",
		steps: []step{
			{"Put on warm layers and keep the room heated", reminders.SeverityHigh, after(30 * time.Minute), []string{"cold", "warmth"}},
			{"Have a warm drink and a light meal", reminders.SeverityMedium, after(time.Hour), []string{"cold", "nutrition"}},
		},
	},
	MacroGeneral: {
		message: "Risk is elevated. Please stay alert and check your reminders.",
		steps: []step{
			{"Check in with your carer and review today's reminders", reminders.SeverityHigh, after(30 * time.Minute), []string{"general", "check-in"}},
		},
	},
}

// macroFor maps the driving risk category to its macro.
func macroFor(cat risk.Category) Macro {
	switch cat {
	case risk.CategoryHeat, risk.CategoryHumidity:
		return MacroHeat
	case risk.CategoryCardiac:
		return MacroCardiac
	case risk.CategorySleep:
		return MacroSleep
	case risk.CategoryWeather:
		return MacroStorm
	case risk.CategoryCold:
		return MacroCold
	}
	return MacroGeneral
}

// Engine selects and expands macros.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Plan picks the macro for the assessment's trigger. A sleep deficit that is
// not the trigger adds the sleep macro as well. Plan always yields at least
// one reminder.
func (e *Engine) Plan(a risk.Assessment, subjectID string, now time.Time) Plan {
	selected := []Macro{macroFor(a.Trigger())}
	if selected[0] != MacroSleep && a.Contributes(risk.CategorySleep) {
		selected = append(selected, MacroSleep)
	}

	var (
		p        = Plan{Macros: selected}
		messages []string
	)
	for _, name := range selected {
		m := macros[name]
		messages = append(messages, m.message)
		for _, st := range m.steps {
			p.Specs = append(p.Specs, reminders.Spec{
				SubjectID: subjectID,
				Content:   st.content,
				Severity:  st.severity,
				DueAt:     st.due(now),
				Tags:      append([]string{"macro:" + string(name)}, st.tags...),
			})
		}
	}
	p.Message = strings.Join(messages, "\n")
	return p
}
