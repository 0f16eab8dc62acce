package risk

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/agriguard/cropsentinel/internal/models"
)

// ErrInvalidInput is returned for a malformed processed feature.
var ErrInvalidInput = errors.New("invalid input: malformed processed feature")

// Engine derives risk assessments from processed features. Stateless
// beyond its immutable rule set; safe for concurrent use across contexts.
type Engine struct {
	cfg        Config
	windowSize int
}

// New creates an engine. windowSize is the rolling-window capacity used
// for confidence scoring.
func New(cfg Config, windowSize int) *Engine {
	return &Engine{cfg: cfg, windowSize: windowSize}
}

func (e *Engine) profile(crop string) CropProfile {
	if p, ok := e.cfg.Crops[crop]; ok {
		return p
	}
	return e.cfg.DefaultProfile
}

// Assess scores one feature against the rule set. history holds the most
// recent assessments for the same context, newest last.
func (e *Engine) Assess(feature models.ProcessedFeature, history []models.RiskAssessment) (models.RiskAssessment, error) {
	if feature.CropType == "" || feature.Smoothed == nil || feature.Flags == nil {
		return models.RiskAssessment{}, ErrInvalidInput
	}

	profile := e.profile(feature.CropType)

	score := 0
	var factors []models.Factor

	for _, rule := range e.cfg.ScoreRules {
		v := feature.Smoothed[rule.Signal]
		if rule.Signal == AnomalySignal {
			v = feature.AnomalyScore
		}
		var also float64
		if rule.AlsoSignal != "" {
			also = feature.Smoothed[rule.AlsoSignal]
		}
		if !rule.triggered(v, also) {
			continue
		}
		score += rule.Points
		factors = append(factors, models.Factor{Name: rule.Name, Points: rule.Points, Reason: rule.Reason})
	}

	for _, signal := range models.SignalNames {
		points, ok := e.cfg.FlagPoints[signal]
		if !ok {
			continue
		}
		flag, ok := feature.Flags[signal]
		if !ok || !flag.Active {
			continue
		}
		score += points
		factors = append(factors, models.Factor{
			Name:   "sustained_" + signal,
			Points: points,
			Reason: fmt.Sprintf("Sustained %s exceedance over %d consecutive readings.", signal, flag.Streak),
		})
	}

	if base := profile.Favorability[feature.WeatherCondition]; base > 0 {
		score += base
		factors = append(factors, models.Factor{
			Name:   "crop_climate",
			Points: base,
			Reason: fmt.Sprintf("Climatic favorability for %s under %s conditions.", feature.CropType, feature.WeatherCondition),
		})
	}

	if bonus := e.persistenceBonus(history); bonus > 0 {
		score += bonus
		factors = append(factors, models.Factor{
			Name:   "sustained_elevation",
			Points: bonus,
			Reason: "Risk has stayed elevated across recent assessments.",
		})
	}

	score = clamp(score, 0, 100)
	level := e.cfg.Cutpoints.LevelFor(score)

	disease, diseaseConf, suggestions := e.predictDisease(feature, profile, score)
	recommendations := e.recommend(level, feature)

	assessment := models.RiskAssessment{
		ID: uuid.NewSHA1(uuid.NameSpaceOID,
			fmt.Appendf(nil, "assessment:%s", feature.ID)).String(),
		Timestamp:          feature.Timestamp,
		CropType:           feature.CropType,
		Score:              score,
		Level:              level,
		Factors:            factors,
		Recommendations:    recommendations,
		PredictedDisease:   disease,
		DiseaseConfidence:  diseaseConf,
		DiseaseSuggestions: suggestions,
		Outbreak:           e.outbreak(feature, profile, score),
		Trajectory:         e.trajectory(feature, score),
		ActionPlan:         e.actionPlan(level, recommendations, suggestions),
		Confidence:         e.confidence(feature),
	}
	return assessment, nil
}

func (e *Engine) persistenceBonus(history []models.RiskAssessment) int {
	depth := e.cfg.PersistenceDepth
	if depth <= 0 || len(history) < depth {
		return 0
	}
	for _, a := range history[len(history)-depth:] {
		if a.Score < e.cfg.Cutpoints.Medium {
			return 0
		}
	}
	return e.cfg.PersistenceBonus
}

// predictDisease names the most likely disease for the crop when the
// fungal window is open, with a confidence floored by the risk score.
func (e *Engine) predictDisease(feature models.ProcessedFeature, profile CropProfile, score int) (string, int, []string) {
	humidity := feature.Smoothed[models.SignalHumidity]
	temperature := feature.Smoothed[models.SignalTemperature]
	leafWetness := feature.Smoothed[models.SignalLeafWetness]
	rain := feature.Smoothed[models.SignalRainForecast]

	fungalWindow := (humidity > 78 && leafWetness > 65) ||
		(rain > 0.55 && leafWetness > 60) ||
		(score >= e.cfg.Cutpoints.High && temperature >= 18 && temperature <= 32)

	disease := e.cfg.DefaultProfile.Disease
	confidence := e.cfg.DefaultProfile.DiseaseBase
	suggestions := e.cfg.DefaultProfile.Suggestions

	if fungalWindow || score >= e.cfg.Cutpoints.High {
		disease = profile.Disease
		confidence = profile.DiseaseBase
		suggestions = profile.Suggestions
	}

	confidence = max(confidence, score*85/100)
	confidence = min(95, confidence)
	return disease, confidence, suggestions
}

// outbreak estimates hours until visible symptoms. Absent below the
// MEDIUM cutpoint; otherwise shortened by how far the score sits above
// the pivot, scaled by the crop's onset rate, minus weather modifiers.
func (e *Engine) outbreak(feature models.ProcessedFeature, profile CropProfile, score int) *models.OutbreakForecast {
	if score < e.cfg.Cutpoints.Medium {
		return nil
	}

	over := float64(score - e.cfg.EdgeScorePivot)
	if over < 0 {
		over = 0
	}
	eta := e.cfg.EdgeBaseHours - over*e.cfg.EdgeHoursPerPoint*profile.OnsetRate

	if feature.Smoothed[models.SignalHumidity] > 80 {
		eta -= 8
	}
	if feature.Smoothed[models.SignalLeafWetness] > 70 {
		eta -= 10
	}
	if feature.Smoothed[models.SignalRainForecast] > 0.65 {
		eta -= 8
	}
	if feature.AnomalyScore > e.cfg.AnomalyHighWater {
		eta -= 6
	}

	hours := clamp(int(eta), 6, int(e.cfg.EdgeBaseHours))

	var window string
	switch {
	case hours <= 12:
		window = "Critical window: within 12 hours"
	case hours <= 24:
		window = "High probability window: within 24 hours"
	case hours <= 48:
		window = "Moderate probability window: within 48 hours"
	default:
		window = "Watch window: within 72 hours"
	}
	return &models.OutbreakForecast{ETAHours: hours, Window: window}
}

// trajectory projects the score forward at fixed horizons: current score
// plus a weather push, decayed with distance.
func (e *Engine) trajectory(feature models.ProcessedFeature, score int) []models.TrajectoryPoint {
	push := 0
	if feature.Smoothed[models.SignalHumidity] > 80 {
		push += 5
	}
	if feature.Smoothed[models.SignalRainForecast] > 0.6 {
		push += 6
	}
	if feature.Smoothed[models.SignalLeafWetness] > 70 {
		push += 5
	}
	if feature.Smoothed[models.SignalWindSpeed] < 2 {
		push += 3
	}

	horizons := []int{12, 24, 48, 72}
	points := make([]models.TrajectoryPoint, 0, len(horizons))
	for _, h := range horizons {
		decay := int(float64(h) * 0.22)
		points = append(points, models.TrajectoryPoint{
			Hours: h,
			Score: clamp(score+push-decay, 5, 100),
		})
	}
	return points
}

// recommend selects matching rules by priority, deduplicated and capped.
func (e *Engine) recommend(level models.RiskLevel, feature models.ProcessedFeature) []string {
	matched := make([]RecommendationRule, 0, len(e.cfg.Recommendations))
	for _, rule := range e.cfg.Recommendations {
		if rule.matches(level, feature) {
			matched = append(matched, rule)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	seen := make(map[string]bool, len(matched))
	out := make([]string, 0, e.cfg.MaxRecommendations)
	for _, rule := range matched {
		if seen[rule.Text] {
			continue
		}
		seen[rule.Text] = true
		out = append(out, rule.Text)
		if len(out) == e.cfg.MaxRecommendations {
			break
		}
	}
	return out
}

func (e *Engine) actionPlan(level models.RiskLevel, recommendations, suggestions []string) models.ActionPlan {
	switch level {
	case models.LevelHigh:
		return models.ActionPlan{
			DoNow: append([]string{
				"Trigger high-risk protocol and notify field supervisor.",
			}, firstN(suggestions, 2)...),
			Today: append(firstN(recommendations, 2),
				"Capture geo-tagged photos and lesion notes from scouting zones."),
			ThisWeek: []string{
				"Review disease progression trend and recalibrate intervention thresholds.",
				"Validate fungicide rotation and compliance with local advisory rules.",
			},
		}
	case models.LevelMedium:
		return models.ActionPlan{
			DoNow: append([]string{
				"Increase scouting frequency in shaded and low-airflow zones.",
			}, firstN(recommendations, 1)...),
			Today: append(firstN(suggestions, 2),
				"Check irrigation timing and avoid late-evening canopy wetness."),
			ThisWeek: []string{
				"Track trend consistency before escalating to chemical controls.",
				"Review drainage and canopy management practices for hotspots.",
			},
		}
	default:
		return models.ActionPlan{
			DoNow: []string{"Maintain routine monitoring and verify sensor calibration."},
			Today: []string{"Inspect representative plots and document baseline crop health."},
			ThisWeek: []string{
				"Reassess risk thresholds using recent weather and disease observations.",
				"Train field staff on early symptom spotting checklist.",
			},
		}
	}
}

// confidence scales with how full the underlying windows are.
func (e *Engine) confidence(feature models.ProcessedFeature) int {
	if e.windowSize <= 0 {
		return 100
	}
	fill := feature.MinSampleCount * 100 / e.windowSize
	return clamp(fill, 0, 100)
}

func firstN(s []string, n int) []string {
	if len(s) < n {
		n = len(s)
	}
	out := make([]string, n)
	copy(out, s[:n])
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
