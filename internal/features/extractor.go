// Package features turns raw readings into processed feature records:
// rolling-mean smoothing, sustained threshold flags, weather-condition
// classification, and a z-score anomaly measure.
package features

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/agriguard/cropsentinel/internal/logger"
	"github.com/agriguard/cropsentinel/internal/models"
	"github.com/agriguard/cropsentinel/internal/window"
)

const epsilon = 1e-9

// Bound is an optional closed interval on one signal.
type Bound struct {
	Min *float64
	Max *float64
}

// Contains reports whether v satisfies the bound.
func (b Bound) Contains(v float64) bool {
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v > *b.Max {
		return false
	}
	return true
}

// WeatherRule classifies a reading when every listed condition holds.
// Rules are evaluated in order; the first match wins.
type WeatherRule struct {
	Label      string
	Conditions map[string]Bound
}

// Matches evaluates the rule against raw signal values.
func (r WeatherRule) Matches(get func(string) float64) bool {
	for signal, bound := range r.Conditions {
		if !bound.Contains(get(signal)) {
			return false
		}
	}
	return true
}

// Config holds feature-extraction tuning. All values are plain data so the
// tables can be validated and extended without touching the algorithm.
type Config struct {
	WindowSize int
	MinSamples int

	// SustainedK is the number of consecutive qualifying raw readings
	// required before a threshold flag raises.
	SustainedK int

	// FlagThresholds maps signal name to the raw-value threshold for its
	// sustained flag.
	FlagThresholds map[string]float64

	// AnomalyWeights maps signal name to its weight in the aggregated
	// z-score. Unlisted signals do not contribute.
	AnomalyWeights map[string]float64
	AnomalyCap     float64

	// Domains bounds valid raw values per signal; out-of-domain samples
	// are treated like non-finite ones.
	Domains map[string]Bound

	// DomainDefaults supplies a substitute value for a rejected sample
	// when no last-known-good value exists yet.
	DomainDefaults map[string]float64

	WeatherRules []WeatherRule
}

func fptr(v float64) *float64 { return &v }

// DefaultConfig returns the tuning used by the reference deployment.
func DefaultConfig() Config {
	return Config{
		WindowSize: 15,
		MinSamples: 3,
		SustainedK: 3,
		FlagThresholds: map[string]float64{
			models.SignalHumidity:    80,
			models.SignalLeafWetness: 70,
		},
		AnomalyWeights: map[string]float64{
			models.SignalTemperature:  0.3,
			models.SignalHumidity:     0.3,
			models.SignalSoilMoisture: 0.2,
			models.SignalLeafWetness:  0.2,
		},
		AnomalyCap: 3.0,
		Domains: map[string]Bound{
			models.SignalHumidity:     {Min: fptr(0), Max: fptr(100)},
			models.SignalSoilMoisture: {Min: fptr(0), Max: fptr(100)},
			models.SignalLeafWetness:  {Min: fptr(0), Max: fptr(100)},
			models.SignalRainForecast: {Min: fptr(0), Max: fptr(1)},
			models.SignalSoilPH:       {Min: fptr(0), Max: fptr(14)},
		},
		DomainDefaults: map[string]float64{
			models.SignalSoilPH:         7.0,
			models.SignalSolarRadiation: 500,
		},
		WeatherRules: DefaultWeatherRules(),
	}
}

// DefaultWeatherRules returns the built-in weather taxonomy. The catch-all
// "stable" rule must stay last.
func DefaultWeatherRules() []WeatherRule {
	return []WeatherRule{
		{
			Label: "wet-warm",
			Conditions: map[string]Bound{
				models.SignalHumidity:     {Min: fptr(78)},
				models.SignalLeafWetness:  {Min: fptr(70)},
				models.SignalRainForecast: {Min: fptr(0.6)},
				models.SignalTemperature:  {Min: fptr(20), Max: fptr(30)},
			},
		},
		{
			Label: "heat-dry",
			Conditions: map[string]Bound{
				models.SignalTemperature:    {Min: fptr(32)},
				models.SignalHumidity:       {Max: fptr(45)},
				models.SignalSolarRadiation: {Min: fptr(650)},
			},
		},
		{Label: "stable"},
	}
}

type flagState struct {
	streak int
	since  time.Time
}

// Extractor processes readings for a single context. It owns that
// context's rolling windows and sustained-flag counters; callers must
// serialize readings for one context in arrival order.
type Extractor struct {
	cfg      Config
	windows  map[string]*window.Window
	flags    map[string]*flagState
	lastGood map[string]float64
	seq      uint64
}

// New creates an extractor with one window per signal.
func New(cfg Config) *Extractor {
	e := &Extractor{
		cfg:      cfg,
		windows:  make(map[string]*window.Window, len(models.SignalNames)),
		flags:    make(map[string]*flagState, len(cfg.FlagThresholds)),
		lastGood: make(map[string]float64, len(models.SignalNames)),
	}
	for _, name := range models.SignalNames {
		e.windows[name] = window.New(cfg.WindowSize)
	}
	for signal := range cfg.FlagThresholds {
		e.flags[signal] = &flagState{}
	}
	return e
}

// Extract runs one reading through smoothing, flag evaluation, weather
// classification, and anomaly scoring. Deterministic given the extractor's
// window state. Non-finite or out-of-domain fields are replaced with the
// last-known-good value (or the domain default) and the feature is marked
// degraded; the reading itself is never rejected.
func (e *Extractor) Extract(reading models.Reading) (models.ProcessedFeature, error) {
	if err := reading.Validate(); err != nil {
		return models.ProcessedFeature{}, err
	}

	sanitized, degraded := e.sanitize(reading)

	raw := make(map[string]float64, len(models.SignalNames))
	smoothed := make(map[string]float64, len(models.SignalNames))
	stats := make(map[string]window.Stats, len(models.SignalNames))

	minCount := math.MaxInt
	for _, name := range models.SignalNames {
		v := sanitized.Signal(name)
		raw[name] = v
		st, err := e.windows[name].Push(v)
		if err != nil {
			// Sanitize guarantees finite values; guard anyway.
			st = e.windows[name].Stats()
		}
		stats[name] = st
		smoothed[name] = st.Mean
		if st.Count < minCount {
			minCount = st.Count
		}
	}

	coldStart := minCount < e.cfg.MinSamples

	flags := e.updateFlags(sanitized, coldStart)

	anomaly := 0.0
	if !coldStart {
		anomaly = e.anomalyScore(raw, stats)
	}

	// Name-based UUID keeps replayed sequences byte-identical.
	e.seq++
	id := uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "feature:%s:%d:%d",
		reading.Context(), reading.Timestamp.UnixNano(), e.seq))

	return models.ProcessedFeature{
		ID:               id.String(),
		Timestamp:        reading.Timestamp,
		CropType:         reading.Context(),
		Raw:              raw,
		Smoothed:         smoothed,
		Flags:            flags,
		WeatherCondition: e.classifyWeather(sanitized),
		AnomalyScore:     anomaly,
		MinSampleCount:   minCount,
		Degraded:         degraded,
	}, nil
}

// sanitize replaces non-finite or out-of-domain fields and records the
// last-known-good value for every accepted field.
func (e *Extractor) sanitize(reading models.Reading) (models.Reading, bool) {
	degraded := false
	for _, name := range models.SignalNames {
		v := reading.Signal(name)
		ok := reading.FiniteSignal(name)
		if ok {
			if bound, found := e.cfg.Domains[name]; found && !bound.Contains(v) {
				ok = false
			}
		}
		if ok {
			e.lastGood[name] = v
			continue
		}

		degraded = true
		substitute, found := e.lastGood[name]
		if !found {
			substitute = e.cfg.DomainDefaults[name]
		}
		logger.Warn("Rejected %s sample %v for crop %s, substituting %v",
			name, v, reading.Context(), substitute)
		reading.SetSignal(name, substitute)
	}
	return reading, degraded
}

func (e *Extractor) updateFlags(reading models.Reading, coldStart bool) map[string]models.ThresholdFlag {
	out := make(map[string]models.ThresholdFlag, len(e.cfg.FlagThresholds))
	for signal, threshold := range e.cfg.FlagThresholds {
		fs := e.flags[signal]
		if reading.Signal(signal) > threshold {
			if fs.streak == 0 {
				fs.since = reading.Timestamp
			}
			fs.streak++
		} else {
			fs.streak = 0
			fs.since = time.Time{}
		}

		active := !coldStart && fs.streak >= e.cfg.SustainedK
		flag := models.ThresholdFlag{
			Signal: signal,
			Active: active,
			Streak: fs.streak,
		}
		if active {
			flag.Since = fs.since
		}
		out[signal] = flag
	}
	return out
}

func (e *Extractor) classifyWeather(reading models.Reading) string {
	for _, rule := range e.cfg.WeatherRules {
		if rule.Matches(reading.Signal) {
			return rule.Label
		}
	}
	return "stable"
}

// anomalyScore aggregates per-signal z-scores as a weighted sum, clamped
// to [0, AnomalyCap]. Signals without spread yet contribute nothing.
func (e *Extractor) anomalyScore(raw map[string]float64, stats map[string]window.Stats) float64 {
	var score float64
	for _, name := range models.SignalNames {
		weight := e.cfg.AnomalyWeights[name]
		if weight == 0 {
			continue
		}
		st := stats[name]
		if st.Count < 2 || st.StdDev < epsilon {
			continue
		}
		z := math.Abs(raw[name]-st.Mean) / st.StdDev
		score += weight * z
	}
	if score > e.cfg.AnomalyCap {
		score = e.cfg.AnomalyCap
	}
	return score
}

// WindowFill reports current sample counts per signal for the query surface.
func (e *Extractor) WindowFill() map[string]int {
	fill := make(map[string]int, len(e.windows))
	for name, w := range e.windows {
		fill[name] = w.Count()
	}
	return fill
}
