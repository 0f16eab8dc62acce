package alerting

import (
	"testing"
	"time"

	"github.com/agriguard/cropsentinel/internal/models"
)

var alertTestStart = time.Date(2026, 4, 10, 6, 0, 0, 0, time.UTC)

func assessment(crop string, tick int, level models.RiskLevel) models.RiskAssessment {
	return models.RiskAssessment{
		ID:        crop + "-" + string(level) + "-" + time.Duration(tick).String(),
		Timestamp: alertTestStart.Add(time.Duration(tick) * time.Minute),
		CropType:  crop,
		Level:     level,
	}
}

// feed runs a level sequence through the machine and returns emitted alerts.
func feed(sm *StateMachine, crop string, levels []models.RiskLevel) []models.Alert {
	var alerts []models.Alert
	for i, level := range levels {
		if alert := sm.OnAssessment(assessment(crop, i, level)); alert != nil {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

func TestOnAssessment_RisingEdgeAlerts(t *testing.T) {
	sm := New()
	alerts := feed(sm, "rice", []models.RiskLevel{models.LevelLow, models.LevelHigh})
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1 on the low-to-high edge", len(alerts))
	}
	if alerts[0].CropType != "rice" {
		t.Errorf("got crop %q, want rice", alerts[0].CropType)
	}
}

func TestOnAssessment_FirstContactHighNeverAlerts(t *testing.T) {
	sm := New()
	alerts := feed(sm, "rice", []models.RiskLevel{models.LevelHigh, models.LevelHigh, models.LevelHigh})
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts, want 0 when a context opens at high", len(alerts))
	}

	state, ok := sm.State("rice")
	if !ok {
		t.Fatal("expected state for rice")
	}
	if state.Level != models.LevelHigh {
		t.Errorf("got level %s, want high recorded without alerting", state.Level)
	}
}

func TestOnAssessment_NoRepeatWhileHigh(t *testing.T) {
	sm := New()
	levels := []models.RiskLevel{
		models.LevelLow,
		models.LevelHigh, models.LevelHigh, models.LevelHigh, models.LevelHigh,
	}
	alerts := feed(sm, "tomato", levels)
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want exactly 1 for a sustained high run", len(alerts))
	}
}

func TestOnAssessment_RearmsAfterLeavingHigh(t *testing.T) {
	sm := New()
	// Scores [60 75 50 80] under cutpoints 45/75: medium, high, medium, high.
	levels := []models.RiskLevel{
		models.LevelMedium, models.LevelHigh, models.LevelMedium, models.LevelHigh,
	}
	alerts := feed(sm, "potato", levels)
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2 (one per rising edge)", len(alerts))
	}
}

func TestOnAssessment_ContextsAreIndependent(t *testing.T) {
	sm := New()
	feed(sm, "rice", []models.RiskLevel{models.LevelLow})
	alerts := feed(sm, "wheat", []models.RiskLevel{models.LevelHigh})
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts, want 0: wheat's first contact is not a transition", len(alerts))
	}

	alerts = feed(sm, "rice", []models.RiskLevel{models.LevelHigh})
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1: rice already had observed history", len(alerts))
	}
}

func TestOnAssessment_DeterministicAlertID(t *testing.T) {
	a := New()
	b := New()
	seq := []models.RiskLevel{models.LevelLow, models.LevelHigh}

	alertsA := feed(a, "maize", seq)
	alertsB := feed(b, "maize", seq)
	if len(alertsA) != 1 || len(alertsB) != 1 {
		t.Fatalf("got %d/%d alerts, want 1 each", len(alertsA), len(alertsB))
	}
	if alertsA[0].ID != alertsB[0].ID {
		t.Errorf("replayed alert IDs diverged: %s vs %s", alertsA[0].ID, alertsB[0].ID)
	}
}

func TestRestore(t *testing.T) {
	sm := New()
	sm.Restore(models.AlertState{
		CropType:  "cotton",
		Level:     models.LevelHigh,
		ChangedAt: alertTestStart,
	})

	// A restored high state must not re-alert while high persists.
	if alert := sm.OnAssessment(assessment("cotton", 1, models.LevelHigh)); alert != nil {
		t.Error("restored high state must suppress repeat alerts")
	}

	// But dropping out and climbing back re-arms as usual.
	sm.OnAssessment(assessment("cotton", 2, models.LevelMedium))
	if alert := sm.OnAssessment(assessment("cotton", 3, models.LevelHigh)); alert == nil {
		t.Error("expected alert after re-entering high from medium")
	}
}

func TestRestore_IgnoresEmptyContext(t *testing.T) {
	sm := New()
	sm.Restore(models.AlertState{})
	if len(sm.Contexts()) != 0 {
		t.Errorf("got %d contexts, want 0 after restoring an empty state", len(sm.Contexts()))
	}
}
