// Package risk scores processed features into bounded risk assessments
// with contributing factors, outbreak forecasts, and recommendations.
package risk

import (
	"github.com/agriguard/cropsentinel/internal/models"
)

// Cutpoints are the fixed score boundaries for risk levels:
// LOW [0,Medium), MEDIUM [Medium,High), HIGH [High,100].
type Cutpoints struct {
	Medium int
	High   int
}

// LevelFor maps a clamped score to its risk level. The mapping depends on
// nothing but the score and the cutpoints.
func (c Cutpoints) LevelFor(score int) models.RiskLevel {
	switch {
	case score >= c.High:
		return models.LevelHigh
	case score >= c.Medium:
		return models.LevelMedium
	default:
		return models.LevelLow
	}
}

// ScoreRule adds points when a smoothed signal value (or the anomaly
// score, via the pseudo-signal "anomaly_score") falls inside Bound.
// Outside inverts the test, for rules like "pH outside the preferred range".
// AlsoSignal optionally names a second conjunct: the rule then triggers
// only when that signal also sits within [AlsoMin, AlsoMax].
type ScoreRule struct {
	Name    string
	Signal  string
	Min     *float64
	Max     *float64
	Outside bool

	AlsoSignal string
	AlsoMin    *float64
	AlsoMax    *float64

	Points int
	Reason string
}

func within(v float64, min, max *float64) bool {
	if min != nil && v < *min {
		return false
	}
	if max != nil && v > *max {
		return false
	}
	return true
}

func (r ScoreRule) triggered(v, also float64) bool {
	inside := within(v, r.Min, r.Max)
	if r.Outside {
		inside = !inside
	}
	if !inside {
		return false
	}
	if r.AlsoSignal == "" {
		return true
	}
	return within(also, r.AlsoMin, r.AlsoMax)
}

// AnomalySignal is the pseudo-signal name routing a ScoreRule to the
// feature's anomaly score instead of a smoothed value.
const AnomalySignal = "anomaly_score"

// CropProfile holds per-crop scoring data. Favorability is keyed by
// weather-condition label; OnsetRate scales how quickly risk above the
// cutpoint shortens the outbreak ETA.
type CropProfile struct {
	Favorability map[string]int
	OnsetRate    float64
	Disease      string
	DiseaseBase  int
	Suggestions  []string
}

// RecommendationRule contributes a recommendation when its conditions
// match. Zero-value conditions always match. Lower Priority sorts first.
type RecommendationRule struct {
	Priority int
	Text     string
	Level    models.RiskLevel
	Flag     string
	Weather  string
}

func (r RecommendationRule) matches(level models.RiskLevel, feature models.ProcessedFeature) bool {
	if r.Level != "" && r.Level != level {
		return false
	}
	if r.Flag != "" {
		flag, ok := feature.Flags[r.Flag]
		if !ok || !flag.Active {
			return false
		}
	}
	if r.Weather != "" && r.Weather != feature.WeatherCondition {
		return false
	}
	return true
}

// Config is the full rule set for the engine. Fatal to get wrong at
// startup, never consulted mutably afterwards.
type Config struct {
	Cutpoints Cutpoints

	ScoreRules []ScoreRule

	// FlagPoints adds a fixed increment per active sustained flag.
	FlagPoints map[string]int

	Crops          map[string]CropProfile
	DefaultProfile CropProfile

	Recommendations    []RecommendationRule
	MaxRecommendations int

	// PersistenceBonus is added when the most recent assessments in
	// history already sat at or above the MEDIUM cutpoint.
	PersistenceBonus  int
	PersistenceDepth  int
	AnomalyHighWater  float64
	EdgeBaseHours     float64
	EdgeScorePivot    int
	EdgeHoursPerPoint float64
}

func fptr(v float64) *float64 { return &v }

// DefaultConfig returns the reference rule set.
func DefaultConfig() Config {
	return Config{
		Cutpoints: Cutpoints{Medium: 45, High: 75},
		ScoreRules: []ScoreRule{
			{
				Name: "high_humidity", Signal: models.SignalHumidity, Min: fptr(80),
				Points: 25, Reason: "Humidity is above 80%, creating fungal-friendly conditions.",
			},
			{
				Name: "fungal_temperature", Signal: models.SignalTemperature, Min: fptr(20), Max: fptr(30),
				Points: 20, Reason: "Temperature is in the 20-30C fungal growth range.",
			},
			{
				Name: "rain_forecast", Signal: models.SignalRainForecast, Min: fptr(0.6),
				Points: 20, Reason: "Rain is forecasted, increasing leaf wetness duration.",
			},
			{
				Name: "leaf_wetness", Signal: models.SignalLeafWetness, Min: fptr(70),
				Points: 12, Reason: "Leaf wetness is elevated, increasing fungal germination likelihood.",
			},
			{
				Name: "soil_moisture", Signal: models.SignalSoilMoisture, Min: fptr(70),
				Points: 10, Reason: "Soil moisture is high, supporting pathogen persistence.",
			},
			{
				Name: "low_wind", Signal: models.SignalWindSpeed, Max: fptr(2),
				Points: 10, Reason: "Low wind speed can reduce canopy drying.",
			},
			{
				Name: "soil_temperature", Signal: models.SignalSoilTemperature, Min: fptr(18), Max: fptr(28),
				Points: 8, Reason: "Soil temperature supports disease development dynamics.",
			},
			{
				Name: "soil_ph", Signal: models.SignalSoilPH, Min: fptr(5.8), Max: fptr(7.2), Outside: true,
				Points: 6, Reason: "Soil pH is outside the preferred range, increasing plant stress.",
			},
			{
				Name: "low_solar_humid", Signal: models.SignalSolarRadiation, Max: fptr(280),
				AlsoSignal: models.SignalHumidity, AlsoMin: fptr(80),
				Points: 6, Reason: "Low solar radiation with high humidity may prolong canopy wetness.",
			},
			{
				Name: "anomaly", Signal: AnomalySignal, Min: fptr(1.0),
				Points: 10, Reason: "Recent sensor pattern deviates from rolling baseline.",
			},
		},
		FlagPoints: map[string]int{
			models.SignalHumidity:    8,
			models.SignalLeafWetness: 5,
		},
		Crops: map[string]CropProfile{
			"rice": {
				Favorability: map[string]int{"wet-warm": 12, "heat-dry": 4, "stable": 8},
				OnsetRate:    1.2,
				Disease:      "Rice blast risk",
				DiseaseBase:  74,
				Suggestions: []string{
					"Avoid excess nitrogen applications during high-risk humid windows.",
					"Maintain optimal spacing and water management to limit prolonged wetness.",
					"Apply targeted fungicide only when threshold is confirmed by local guidelines.",
				},
			},
			"tomato": {
				Favorability: map[string]int{"wet-warm": 12, "heat-dry": 5, "stable": 8},
				OnsetRate:    1.15,
				Disease:      "Early blight (Alternaria) risk",
				DiseaseBase:  72,
				Suggestions: []string{
					"Remove infected lower leaves and sanitize tools after handling plants.",
					"Use preventive fungicide strategy with active ingredient rotation.",
					"Avoid overhead irrigation in late afternoon and evening.",
				},
			},
			"potato": {
				Favorability: map[string]int{"wet-warm": 10, "heat-dry": 3, "stable": 6},
				OnsetRate:    1.25,
				Disease:      "Late blight risk",
				DiseaseBase:  76,
				Suggestions: []string{
					"Start preventive blight spray schedule based on local advisory guidance.",
					"Improve field drainage and avoid dense canopy humidity pockets.",
					"Scout high-risk zones twice daily after rainfall windows.",
				},
			},
			"wheat": {
				Favorability: map[string]int{"wet-warm": 7, "heat-dry": 3, "stable": 4},
				OnsetRate:    0.9,
				Disease:      "Leaf rust risk",
				DiseaseBase:  68,
				Suggestions: []string{
					"Increase scouting around dense and shaded sections of the field.",
					"Prioritize resistant varieties and timely foliar protection if thresholds are met.",
					"Avoid unnecessary late irrigation that increases canopy humidity.",
				},
			},
			"maize": {
				Favorability: map[string]int{"wet-warm": 6, "heat-dry": 3, "stable": 3},
				OnsetRate:    0.85,
				Disease:      "Northern leaf blight risk",
				DiseaseBase:  64,
				Suggestions: []string{
					"Scout for elongated gray-green lesions in lower to mid canopy.",
					"Improve residue management and maintain field airflow.",
					"Use targeted fungicide only if disease pressure escalates and thresholds are met.",
				},
			},
			"cotton": {
				Favorability: map[string]int{"wet-warm": 6, "heat-dry": 5, "stable": 4},
				OnsetRate:    0.9,
				Disease:      "Boll rot complex risk",
				DiseaseBase:  60,
				Suggestions: []string{
					"Improve canopy ventilation and avoid late-season over-irrigation.",
					"Scout bolls in humid pockets after extended wet periods.",
				},
			},
		},
		DefaultProfile: CropProfile{
			Favorability: map[string]int{"wet-warm": 4, "heat-dry": 2, "stable": 2},
			OnsetRate:    1.0,
			Disease:      "Fungal disease complex risk",
			DiseaseBase:  58,
			Suggestions: []string{
				"Inspect the lower canopy for early lesions and discoloration.",
				"Reduce prolonged leaf wetness by improving airflow and irrigation timing.",
			},
		},
		Recommendations:    DefaultRecommendationRules(),
		MaxRecommendations: 5,
		PersistenceBonus:   5,
		PersistenceDepth:   2,
		AnomalyHighWater:   1.2,
		EdgeBaseHours:      72,
		EdgeScorePivot:     35,
		EdgeHoursPerPoint:  1.15,
	}
}

// DefaultRecommendationRules returns the built-in recommendation table.
func DefaultRecommendationRules() []RecommendationRule {
	return []RecommendationRule{
		{Priority: 1, Level: models.LevelHigh, Text: "Increase field scouting frequency to twice daily."},
		{Priority: 2, Level: models.LevelHigh, Text: "Improve air circulation and avoid overhead irrigation."},
		{Priority: 3, Level: models.LevelHigh, Text: "Prepare targeted fungicide plan based on local agronomy guidance."},
		{Priority: 4, Flag: models.SignalHumidity, Text: "Avoid late-evening irrigation that prolongs canopy humidity."},
		{Priority: 5, Flag: models.SignalLeafWetness, Text: "Reduce leaf wetness duration by adjusting irrigation timing."},
		{Priority: 6, Weather: "wet-warm", Text: "Prioritize drainage checks ahead of the forecast rain window."},
		{Priority: 7, Weather: "heat-dry", Text: "Schedule irrigation early morning to offset heat stress."},
		{Priority: 10, Level: models.LevelMedium, Text: "Monitor humidity and rainfall windows closely."},
		{Priority: 11, Level: models.LevelMedium, Text: "Inspect lower canopy and shaded zones for early signs."},
		{Priority: 12, Level: models.LevelMedium, Text: "Optimize irrigation timing for morning-only watering."},
		{Priority: 20, Level: models.LevelLow, Text: "Continue routine monitoring and maintain hygiene practices."},
		{Priority: 21, Level: models.LevelLow, Text: "Keep drainage and ventilation in good condition."},
	}
}
