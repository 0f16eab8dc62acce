package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/agriguard/cropsentinel/internal/models"
)

var storageTestStart = time.Date(2026, 4, 10, 6, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(100, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAssessment(id, crop string, score int, ts time.Time) models.RiskAssessment {
	a := models.RiskAssessment{
		ID:        id,
		Timestamp: ts,
		CropType:  crop,
		Score:     score,
		Level:     models.LevelMedium,
		Factors: []models.Factor{
			{Name: "high_humidity", Points: 25, Reason: "Humidity is above 80%."},
		},
		Recommendations:   []string{"Monitor humidity and rainfall windows closely."},
		PredictedDisease:  "Early blight (Alternaria) risk",
		DiseaseConfidence: 72,
		Confidence:        80,
	}
	if score >= 45 {
		a.Outbreak = &models.OutbreakForecast{
			ETAHours: 48,
			Window:   "Moderate probability window: within 48 hours",
		}
	}
	return a
}

func TestStorage_SaveReading(t *testing.T) {
	s := newTestStorage(t)
	r := models.Reading{
		Timestamp:   storageTestStart,
		CropType:    "Tomato",
		Temperature: 24,
		Humidity:    82,
	}
	if err := s.SaveReading(r); err != nil {
		t.Fatalf("SaveReading: %v", err)
	}
	readings, _, _, _, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if readings != 1 {
		t.Errorf("got %d readings, want 1", readings)
	}
}

func TestStorage_SaveFeature(t *testing.T) {
	s := newTestStorage(t)
	f := models.ProcessedFeature{
		ID:        "feature-1",
		Timestamp: storageTestStart,
		CropType:  "tomato",
		Smoothed:  map[string]float64{models.SignalHumidity: 82.5},
		Flags: map[string]models.ThresholdFlag{
			models.SignalHumidity: {Signal: models.SignalHumidity, Active: true, Streak: 3},
		},
		WeatherCondition: "wet-warm",
		AnomalyScore:     1.2,
		MinSampleCount:   15,
	}
	if err := s.SaveFeature(f); err != nil {
		t.Fatalf("SaveFeature: %v", err)
	}
	_, features, _, _, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if features != 1 {
		t.Errorf("got %d features, want 1", features)
	}
}

func TestStorage_AssessmentRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	want := testAssessment("assessment-1", "tomato", 53, storageTestStart)
	if err := s.SaveAssessment(want); err != nil {
		t.Fatalf("SaveAssessment: %v", err)
	}

	got, err := s.RecentAssessments("tomato", 10)
	if err != nil {
		t.Fatalf("RecentAssessments: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d assessments, want 1", len(got))
	}
	a := got[0]
	if a.ID != want.ID || a.Score != want.Score || a.Level != want.Level {
		t.Errorf("got %s/%d/%s, want %s/%d/%s",
			a.ID, a.Score, a.Level, want.ID, want.Score, want.Level)
	}
	if a.PredictedDisease != want.PredictedDisease || a.DiseaseConfidence != want.DiseaseConfidence {
		t.Errorf("disease fields did not round-trip: %+v", a)
	}
	if a.Outbreak == nil || a.Outbreak.ETAHours != 48 {
		t.Errorf("outbreak forecast did not round-trip: %+v", a.Outbreak)
	}
	if len(a.Factors) != 1 || a.Factors[0].Name != "high_humidity" {
		t.Errorf("factors did not round-trip: %+v", a.Factors)
	}
}

func TestStorage_AssessmentWithoutOutbreak(t *testing.T) {
	s := newTestStorage(t)
	want := testAssessment("assessment-low", "rice", 20, storageTestStart)
	if err := s.SaveAssessment(want); err != nil {
		t.Fatalf("SaveAssessment: %v", err)
	}
	got, err := s.RecentAssessments("rice", 10)
	if err != nil {
		t.Fatalf("RecentAssessments: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d assessments, want 1", len(got))
	}
	if got[0].Outbreak != nil {
		t.Errorf("got outbreak %+v, want nil below the medium cutpoint", got[0].Outbreak)
	}
}

func TestStorage_RecentAssessmentsNewestFirst(t *testing.T) {
	s := newTestStorage(t)
	for i := 0; i < 5; i++ {
		a := testAssessment(fmt.Sprintf("assessment-%d", i), "tomato", 50,
			storageTestStart.Add(time.Duration(i)*time.Minute))
		if err := s.SaveAssessment(a); err != nil {
			t.Fatalf("SaveAssessment #%d: %v", i, err)
		}
	}

	got, err := s.RecentAssessments("tomato", 3)
	if err != nil {
		t.Fatalf("RecentAssessments: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d assessments, want 3", len(got))
	}
	if got[0].ID != "assessment-4" || got[2].ID != "assessment-2" {
		t.Errorf("got order %s..%s, want newest first", got[0].ID, got[2].ID)
	}
}

func TestStorage_AlertRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	alert := models.Alert{
		ID:          "alert-1",
		CropType:    "potato",
		Assessment:  testAssessment("assessment-1", "potato", 80, storageTestStart),
		TriggeredAt: storageTestStart,
	}
	if err := s.SaveAlert(alert); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}

	got, err := s.RecentAlerts(10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d alerts, want 1", len(got))
	}
	if got[0].ID != alert.ID || got[0].CropType != alert.CropType {
		t.Errorf("got %+v, want %+v", got[0], alert)
	}
	if got[0].Assessment.Score != 80 {
		t.Errorf("assessment snapshot did not round-trip: got score %d", got[0].Assessment.Score)
	}
}

func TestStorage_Rotate(t *testing.T) {
	s, err := New(3, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 10; i++ {
		a := testAssessment(fmt.Sprintf("assessment-%d", i), "maize", 50,
			storageTestStart.Add(time.Duration(i)*time.Minute))
		if err := s.SaveAssessment(a); err != nil {
			t.Fatalf("SaveAssessment #%d: %v", i, err)
		}
	}
	if err := s.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	_, _, assessments, _, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if assessments != 3 {
		t.Errorf("got %d assessments after rotation, want 3", assessments)
	}

	kept, err := s.RecentAssessments("maize", 10)
	if err != nil {
		t.Fatalf("RecentAssessments: %v", err)
	}
	if len(kept) != 3 || kept[0].ID != "assessment-9" {
		t.Errorf("rotation must keep the newest rows, got %d starting at %s", len(kept), kept[0].ID)
	}
}
