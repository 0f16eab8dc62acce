// Package alerting tracks per-context risk levels and detects the rising
// edge into HIGH. Alerts are edge-triggered: one per transition into HIGH,
// never repeated while the level stays there.
package alerting

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agriguard/cropsentinel/internal/models"
)

// StateMachine holds the current risk level per tracked context. Callers
// must serialize OnAssessment calls for one context in arrival order.
type StateMachine struct {
	states map[string]*models.AlertState
}

// New creates an empty state machine.
func New() *StateMachine {
	return &StateMachine{states: make(map[string]*models.AlertState)}
}

// OnAssessment records the new level for the assessment's context and
// returns an Alert only on a non-HIGH to HIGH transition. The first-ever
// assessment for a context establishes its state without alerting, even
// when it opens at HIGH: a brand-new context has no observed history to
// transition from.
func (sm *StateMachine) OnAssessment(assessment models.RiskAssessment) *models.Alert {
	context := assessment.CropType
	state, known := sm.states[context]
	if !known {
		// First contact: record the level without treating it as a
		// transition. A context whose very first assessment is HIGH
		// emits no alert; it must drop below HIGH and climb back to
		// trigger one.
		sm.states[context] = &models.AlertState{
			CropType:  context,
			Level:     assessment.Level,
			ChangedAt: assessment.Timestamp,
		}
		return nil
	}

	previous := state.Level
	if previous != assessment.Level {
		state.Level = assessment.Level
		state.ChangedAt = assessment.Timestamp
	}

	if previous == models.LevelHigh || assessment.Level != models.LevelHigh {
		return nil
	}

	return &models.Alert{
		ID: uuid.NewSHA1(uuid.NameSpaceOID,
			fmt.Appendf(nil, "alert:%s", assessment.ID)).String(),
		CropType:    context,
		Assessment:  assessment,
		TriggeredAt: assessment.Timestamp,
	}
}

// State returns a copy of the context's current alert state. The second
// return is false for a never-seen context.
func (sm *StateMachine) State(context string) (models.AlertState, bool) {
	state, ok := sm.states[context]
	if !ok {
		return models.AlertState{}, false
	}
	return *state, true
}

// Contexts lists every tracked context.
func (sm *StateMachine) Contexts() []string {
	out := make([]string, 0, len(sm.states))
	for context := range sm.states {
		out = append(out, context)
	}
	return out
}

// Restore seeds a context's state, used when resuming from a checkpoint.
func (sm *StateMachine) Restore(state models.AlertState) {
	if state.CropType == "" {
		return
	}
	copied := state
	if copied.ChangedAt.IsZero() {
		copied.ChangedAt = time.Now()
	}
	sm.states[state.CropType] = &copied
}
