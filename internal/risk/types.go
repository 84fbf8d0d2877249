package risk

import "time"

// Level is the discrete risk classification.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Category names one signal family that contributes to the score.
type Category string

const (
	CategoryHeat     Category = "heat"
	CategoryCold     Category = "cold"
	CategoryHumidity Category = "humidity"
	CategoryWeather  Category = "weather"
	CategoryCardiac  Category = "cardiac"
	CategorySleep    Category = "sleep"
)

// triggerOrder breaks ties between equal contributions when picking the
// category that drove an assessment.
var triggerOrder = []Category{
	CategoryHeat,
	CategoryCardiac,
	CategorySleep,
	CategoryWeather,
	CategoryCold,
	CategoryHumidity,
}

// Signals is one snapshot of everything the evaluator looks at. Callers fill
// in last-known or neutral values for readings they do not have.
type Signals struct {
	TemperatureC float64   `json:"temperature"`
	HumidityPct  float64   `json:"humidity"`
	Warnings     []string  `json:"warnings"`
	HeartRate    float64   `json:"heart_rate"`
	SleepHours   float64   `json:"sleep"`
	Steps        int       `json:"steps"`
	CapturedAt   time.Time `json:"captured_at,omitzero"`
}

// Contribution is one category's share of the composite score.
type Contribution struct {
	Category   Category `json:"category"`
	Normalized float64  `json:"normalized"`
	Weighted   float64  `json:"weighted"`
}

// Override records a hard safety ceiling that forced the level to high.
type Override struct {
	Category Category `json:"category"`
	Reason   string   `json:"reason"`
}

// Assessment is the result of one evaluation. It is never persisted on its own.
type Assessment struct {
	Score         float64        `json:"score"`
	Level         Level          `json:"level"`
	Signals       Signals        `json:"signals"`
	Contributions []Contribution `json:"contributions"`
	Overrides     []Override     `json:"overrides,omitempty"`
	Reasons       []string       `json:"reasons"`
}

// Trigger names the category that drove the assessment. A hard override wins;
// otherwise it is the largest weighted contribution. It returns "" when
// nothing contributed.
func (a Assessment) Trigger() Category {
	if len(a.Overrides) > 0 {
		return a.Overrides[0].Category
	}
	var best Category
	var bestScore float64
	for _, cat := range triggerOrder {
		w := a.contribution(cat)
		if w > bestScore {
			best, bestScore = cat, w
		}
	}
	return best
}

// Contributes reports whether cat added anything to the score or fired an override.
func (a Assessment) Contributes(cat Category) bool {
	for _, o := range a.Overrides {
		if o.Category == cat {
			return true
		}
	}
	return a.contribution(cat) > 0
}

func (a Assessment) contribution(cat Category) float64 {
	for _, c := range a.Contributions {
		if c.Category == cat {
			return c.Weighted
		}
	}
	return 0
}
