// Package models defines the core domain entities: sensor readings,
// processed features, risk assessments, and alerts.
package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Signal names for the numeric fields of a Reading. Windows, thresholds,
// and anomaly weights are all keyed by these.
const (
	SignalTemperature     = "temperature"
	SignalHumidity        = "humidity"
	SignalRainForecast    = "rain_forecast"
	SignalSoilMoisture    = "soil_moisture"
	SignalWindSpeed       = "wind_speed"
	SignalLeafWetness     = "leaf_wetness"
	SignalSoilTemperature = "soil_temperature"
	SignalSoilPH          = "soil_ph"
	SignalSolarRadiation  = "solar_radiation"
)

// SignalNames lists every numeric signal in canonical order. Iteration over
// signals must use this slice, never a map, so output is deterministic.
var SignalNames = []string{
	SignalTemperature,
	SignalHumidity,
	SignalRainForecast,
	SignalSoilMoisture,
	SignalWindSpeed,
	SignalLeafWetness,
	SignalSoilTemperature,
	SignalSoilPH,
	SignalSolarRadiation,
}

// Reading is one immutable telemetry tick from the ingestion collaborator.
type Reading struct {
	Timestamp       time.Time `json:"timestamp"`
	CropType        string    `json:"crop_type"`
	Temperature     float64   `json:"temperature"`
	Humidity        float64   `json:"humidity"`
	RainForecast    float64   `json:"rain_forecast"`
	SoilMoisture    float64   `json:"soil_moisture"`
	WindSpeed       float64   `json:"wind_speed"`
	LeafWetness     float64   `json:"leaf_wetness"`
	SoilTemperature float64   `json:"soil_temperature"`
	SoilPH          float64   `json:"soil_ph"`
	SolarRadiation  float64   `json:"solar_radiation"`
}

// Signal returns the value of the named numeric field.
func (r Reading) Signal(name string) float64 {
	switch name {
	case SignalTemperature:
		return r.Temperature
	case SignalHumidity:
		return r.Humidity
	case SignalRainForecast:
		return r.RainForecast
	case SignalSoilMoisture:
		return r.SoilMoisture
	case SignalWindSpeed:
		return r.WindSpeed
	case SignalLeafWetness:
		return r.LeafWetness
	case SignalSoilTemperature:
		return r.SoilTemperature
	case SignalSoilPH:
		return r.SoilPH
	case SignalSolarRadiation:
		return r.SolarRadiation
	}
	return 0
}

// SetSignal writes the named numeric field. Used when substituting a
// last-known-good value for a rejected sample.
func (r *Reading) SetSignal(name string, v float64) {
	switch name {
	case SignalTemperature:
		r.Temperature = v
	case SignalHumidity:
		r.Humidity = v
	case SignalRainForecast:
		r.RainForecast = v
	case SignalSoilMoisture:
		r.SoilMoisture = v
	case SignalWindSpeed:
		r.WindSpeed = v
	case SignalLeafWetness:
		r.LeafWetness = v
	case SignalSoilTemperature:
		r.SoilTemperature = v
	case SignalSoilPH:
		r.SoilPH = v
	case SignalSolarRadiation:
		r.SolarRadiation = v
	}
}

// Context returns the tracked-context key for this reading. State isolation
// is per crop type: each crop carries its own windows and alert state.
func (r Reading) Context() string {
	crop := strings.ToLower(strings.TrimSpace(r.CropType))
	if crop == "" {
		return "unknown"
	}
	return crop
}

// Validate checks structural reading constraints. Per-field numeric sanity
// (finiteness, domain ranges) is handled per signal during extraction so a
// single bad sensor never rejects the whole reading.
func (r Reading) Validate() error {
	if r.Timestamp.IsZero() {
		return errors.New("reading timestamp must not be zero")
	}
	return nil
}

// FiniteSignal reports whether the named field holds a usable finite value.
func (r Reading) FiniteSignal(name string) bool {
	v := r.Signal(name)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
