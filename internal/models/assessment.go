package models

import "time"

// RiskLevel is the discretized risk band derived from the numeric score.
type RiskLevel string

const (
	LevelLow    RiskLevel = "LOW"
	LevelMedium RiskLevel = "MEDIUM"
	LevelHigh   RiskLevel = "HIGH"
)

// ThresholdFlag records a sustained-exceedance condition on one signal.
// Active only raises after the configured number of consecutive raw
// readings each independently exceed the threshold.
type ThresholdFlag struct {
	Signal string    `json:"signal"`
	Active bool      `json:"active"`
	Streak int       `json:"streak"`
	Since  time.Time `json:"since,omitempty"`
}

// ProcessedFeature is the derived record for one reading: smoothed signal
// values, sustained threshold flags, a weather label, and an anomaly score.
// Immutable once produced.
type ProcessedFeature struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	CropType  string    `json:"crop_type"`

	Raw      map[string]float64 `json:"raw"`
	Smoothed map[string]float64 `json:"smoothed"`

	Flags            map[string]ThresholdFlag `json:"flags"`
	WeatherCondition string                   `json:"weather_condition"`
	AnomalyScore     float64                  `json:"anomaly_score"`

	// MinSampleCount is the smallest fill level across this context's
	// windows, used downstream for confidence scoring.
	MinSampleCount int `json:"min_sample_count"`

	// Degraded marks that one or more raw fields were rejected and
	// substituted with last-known-good values.
	Degraded bool `json:"degraded"`
}

// Factor names one signal's contribution to a risk score.
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

// OutbreakForecast is the predicted time to visible symptoms. Present only
// when the score has crossed the MEDIUM cutpoint.
type OutbreakForecast struct {
	ETAHours int    `json:"eta_hours"`
	Window   string `json:"window"`
}

// TrajectoryPoint is a projected risk score at a forward horizon.
type TrajectoryPoint struct {
	Hours int `json:"hours"`
	Score int `json:"risk_score"`
}

// ActionPlan tiers recommended interventions by urgency.
type ActionPlan struct {
	DoNow    []string `json:"do_now"`
	Today    []string `json:"today"`
	ThisWeek []string `json:"this_week"`
}

// RiskAssessment is the scored result for one processed feature.
// Immutable once produced.
type RiskAssessment struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	CropType  string    `json:"crop_type"`

	Score   int       `json:"risk_score"`
	Level   RiskLevel `json:"risk_level"`
	Factors []Factor  `json:"factors"`

	Recommendations []string `json:"recommendations"`

	PredictedDisease   string   `json:"predicted_disease"`
	DiseaseConfidence  int      `json:"disease_confidence"`
	DiseaseSuggestions []string `json:"disease_suggestions"`

	Outbreak   *OutbreakForecast `json:"outbreak,omitempty"`
	Trajectory []TrajectoryPoint `json:"trajectory"`
	ActionPlan ActionPlan        `json:"action_plan"`

	// Confidence reflects sample sufficiency in the underlying windows.
	Confidence int `json:"confidence"`
}

// Alert is emitted exactly once per rising edge into HIGH for a context.
type Alert struct {
	ID          string         `json:"id"`
	CropType    string         `json:"crop_type"`
	Assessment  RiskAssessment `json:"assessment"`
	TriggeredAt time.Time      `json:"triggered_at"`
}

// AlertState is the long-lived per-context risk state tracked by the alert
// state machine.
type AlertState struct {
	CropType  string    `json:"crop_type"`
	Level     RiskLevel `json:"level"`
	ChangedAt time.Time `json:"changed_at"`
}
