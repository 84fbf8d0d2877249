package risk

import (
	"fmt"
	"math"
	"strings"
)

// Thresholds are the physical bounds each category is normalized against.
type Thresholds struct {
	SafeTempC    float64 // heat starts contributing above this
	HeatCeilingC float64 // heat contribution saturates here
	TempCeilingC float64 // hard override at or above
	ColdTempC    float64 // cold starts contributing below this
	ColdSpanC    float64
	TempFloorC   float64 // hard override at or below

	HumidityFloor float64

	HRLow      float64
	HRHigh     float64
	HRSpanLow  float64
	HRSpanHigh float64
	HRFloor    float64 // hard override at or below
	HRCeiling  float64 // hard override at or above

	SleepTarget float64
	SleepFloor  float64
}

// Weights scale each normalized contribution into the composite score.
type Weights struct {
	Heat     float64
	Cold     float64
	Humidity float64
	Weather  float64
	Cardiac  float64
	Sleep    float64
}

// Config fully determines an Evaluator.
type Config struct {
	Thresholds   Thresholds
	Weights      Weights
	HighCutoff   float64
	MediumCutoff float64
}

// DefaultConfig returns the thresholds tuned for an elderly subject in a
// subtropical climate.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			SafeTempC:     28,
			HeatCeilingC:  35,
			TempCeilingC:  38,
			ColdTempC:     10,
			ColdSpanC:     10,
			TempFloorC:    2,
			HumidityFloor: 75,
			HRLow:         50,
			HRHigh:        100,
			HRSpanLow:     15,
			HRSpanHigh:    30,
			HRFloor:       40,
			HRCeiling:     140,
			SleepTarget:   7,
			SleepFloor:    4,
		},
		Weights: Weights{
			Heat:     5,
			Cold:     2,
			Humidity: 1,
			Weather:  2,
			Cardiac:  3,
			Sleep:    2,
		},
		HighCutoff:   7,
		MediumCutoff: 4,
	}
}

// WithBaseline returns a copy of c using a subject's own resting heart-rate
// band and sleep target. Non-positive or inverted values are ignored.
func (c Config) WithBaseline(hrLow, hrHigh, sleepTarget float64) Config {
	if hrLow > 0 && hrHigh > hrLow {
		c.Thresholds.HRLow = hrLow
		c.Thresholds.HRHigh = hrHigh
	}
	if sleepTarget > c.Thresholds.SleepFloor {
		c.Thresholds.SleepTarget = sleepTarget
	}
	return c
}

// Evaluator maps a Signals snapshot to an Assessment. It holds no mutable
// state and is safe for concurrent use.
type Evaluator struct {
	cfg Config
}

// NewEvaluator returns an Evaluator for cfg. Cutoffs that are not strictly
// ordered fall back to the defaults.
func NewEvaluator(cfg Config) *Evaluator {
	def := DefaultConfig()
	if cfg.HighCutoff <= cfg.MediumCutoff || cfg.MediumCutoff <= 0 {
		cfg.HighCutoff = def.HighCutoff
		cfg.MediumCutoff = def.MediumCutoff
	}
	return &Evaluator{cfg: cfg}
}

// Config returns the configuration the evaluator was built with.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// Evaluate scores s. It is deterministic and never fails; NaN readings
// contribute nothing.
func (e *Evaluator) Evaluate(s Signals) Assessment {
	th, w := e.cfg.Thresholds, e.cfg.Weights
	a := Assessment{Signals: s}

	add := func(cat Category, normalized, weight float64, reason string) {
		normalized = clamp01(normalized)
		if normalized == 0 {
			return
		}
		a.Contributions = append(a.Contributions, Contribution{
			Category:   cat,
			Normalized: normalized,
			Weighted:   normalized * weight,
		})
		a.Reasons = append(a.Reasons, reason)
	}
	override := func(cat Category, reason string) {
		a.Overrides = append(a.Overrides, Override{Category: cat, Reason: reason})
		a.Reasons = append(a.Reasons, reason)
	}

	// Warnings come first so a flagged extreme event is the reported trigger.
	advisory := false
	for _, code := range s.Warnings {
		code = normalizeWarning(code)
		if code == "" {
			continue
		}
		if cat, ok := extremeWarnings[code]; ok {
			override(cat, fmt.Sprintf("extreme weather warning %s in force", code))
			continue
		}
		advisory = true
	}

	if t := s.TemperatureC; !math.IsNaN(t) {
		add(CategoryHeat, (t-th.SafeTempC)/(th.HeatCeilingC-th.SafeTempC), w.Heat,
			fmt.Sprintf("temperature %.1f°C above %.1f°C comfort limit", t, th.SafeTempC))
		add(CategoryCold, (th.ColdTempC-t)/th.ColdSpanC, w.Cold,
			fmt.Sprintf("temperature %.1f°C below %.1f°C", t, th.ColdTempC))
		if t >= th.TempCeilingC {
			override(CategoryHeat, fmt.Sprintf("temperature %.1f°C at or above %.1f°C", t, th.TempCeilingC))
		}
		if t <= th.TempFloorC {
			override(CategoryCold, fmt.Sprintf("temperature %.1f°C at or below %.1f°C", t, th.TempFloorC))
		}
	}

	if h := s.HumidityPct; !math.IsNaN(h) {
		add(CategoryHumidity, (h-th.HumidityFloor)/(100-th.HumidityFloor), w.Humidity,
			fmt.Sprintf("humidity %.0f%% above %.0f%%", h, th.HumidityFloor))
	}

	if advisory {
		add(CategoryWeather, 1, w.Weather, "weather advisory in force")
	}

	// A zero heart rate means no reading, not asystole.
	if hr := s.HeartRate; !math.IsNaN(hr) && hr > 0 {
		band := fmt.Sprintf("heart rate %.0f bpm outside %.0f-%.0f band", hr, th.HRLow, th.HRHigh)
		switch {
		case hr > th.HRHigh:
			add(CategoryCardiac, (hr-th.HRHigh)/th.HRSpanHigh, w.Cardiac, band)
		case hr < th.HRLow:
			add(CategoryCardiac, (th.HRLow-hr)/th.HRSpanLow, w.Cardiac, band)
		}
		if hr >= th.HRCeiling || hr <= th.HRFloor {
			override(CategoryCardiac, fmt.Sprintf("heart rate %.0f bpm past safety limit", hr))
		}
	}

	if sl := s.SleepHours; !math.IsNaN(sl) && sl >= 0 {
		add(CategorySleep, (th.SleepTarget-sl)/(th.SleepTarget-th.SleepFloor), w.Sleep,
			fmt.Sprintf("slept %.1fh against a %.1fh target", sl, th.SleepTarget))
	}

	var score float64
	for _, c := range a.Contributions {
		score += c.Weighted
	}
	// Rounding keeps float noise from pushing a boundary score below a cutoff.
	a.Score = math.Round(score*1e6) / 1e6

	switch {
	case len(a.Overrides) > 0 || a.Score >= e.cfg.HighCutoff:
		a.Level = LevelHigh
	case a.Score >= e.cfg.MediumCutoff:
		a.Level = LevelMedium
	default:
		a.Level = LevelLow
	}
	if len(a.Reasons) == 0 {
		a.Reasons = []string{"all signals within normal range"}
	}
	return a
}

// extremeWarnings are weather warnings that are dangerous on their own,
// mapped to the category they are reported under.
var extremeWarnings = map[string]Category{
	"WHOT":   CategoryHeat,
	"WCOLD":  CategoryCold,
	"WRAINB": CategoryWeather,
	"TC8NE":  CategoryWeather,
	"TC8SE":  CategoryWeather,
	"TC8NW":  CategoryWeather,
	"TC8SW":  CategoryWeather,
	"TC9":    CategoryWeather,
	"TC10":   CategoryWeather,
	"WTMW":   CategoryWeather,
}

// IsExtremeWarning reports whether code forces a high assessment by itself.
func IsExtremeWarning(code string) bool {
	_, ok := extremeWarnings[normalizeWarning(code)]
	return ok
}

func normalizeWarning(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 1:
		return 1
	default:
		return v
	}
}
