package signals

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/carewatch/internal/risk"
)

// Neutral readings used for anything never observed.
const (
	NeutralTemperatureC = 22
	NeutralHumidityPct  = 60
	NeutralHeartRate    = 72
)

// WeatherSource is implemented by *WeatherClient.
type WeatherSource interface {
	Current(ctx context.Context) (Weather, error)
}

// Provider combines weather and vitals into one risk.Signals snapshot.
type Provider struct {
	weather     WeatherSource
	sensors     *SensorCache
	sleepTarget float64
	now         func() time.Time
	logger      *slog.Logger
}

// NewProvider creates a Provider. sleepTarget is the neutral sleep value; a
// nil weather source leaves weather neutral.
func NewProvider(weather WeatherSource, sensors *SensorCache, sleepTarget float64) *Provider {
	if sensors == nil {
		sensors = NewSensorCache()
	}
	return &Provider{
		weather:     weather,
		sensors:     sensors,
		sleepTarget: sleepTarget,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

// Snapshot never fails. Weather errors are logged and the unread fields
// take their neutral values.
func (p *Provider) Snapshot(ctx context.Context) (risk.Signals, Weather) {
	var w Weather
	if p.weather != nil {
		var err error
		w, err = p.weather.Current(ctx)
		if err != nil {
			p.logger.Warn("weather unavailable, using neutral values", "error", err)
		}
	}
	if w.Warnings == nil {
		w.Warnings = []string{}
	}

	v := p.sensors.Latest()
	s := risk.Signals{
		TemperatureC: valueOr(w.TemperatureC, NeutralTemperatureC),
		HumidityPct:  valueOr(w.HumidityPct, NeutralHumidityPct),
		Warnings:     w.Warnings,
		HeartRate:    valueOr(v.HeartRate, NeutralHeartRate),
		SleepHours:   valueOr(v.SleepHours, p.sleepTarget),
		CapturedAt:   p.now().UTC(),
	}
	if v.Steps != nil {
		s.Steps = *v.Steps
	}
	return s, w
}

// Neutral returns a snapshot holding only neutral readings. Callers that
// accept partial readings start from it so that omitted fields score zero.
func Neutral(sleepTarget float64) risk.Signals {
	if sleepTarget <= 0 {
		sleepTarget = risk.DefaultConfig().Thresholds.SleepTarget
	}
	return risk.Signals{
		TemperatureC: NeutralTemperatureC,
		HumidityPct:  NeutralHumidityPct,
		Warnings:     []string{},
		HeartRate:    NeutralHeartRate,
		SleepHours:   sleepTarget,
	}
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
