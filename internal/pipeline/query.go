package pipeline

import (
	"sort"

	"github.com/agriguard/cropsentinel/internal/models"
)

// ContextStatus is the best-effort health of one tracked context.
type ContextStatus string

const (
	StatusOK       ContextStatus = "ok"
	StatusDegraded ContextStatus = "degraded"
	StatusUnknown  ContextStatus = "unknown"
)

// ContextStats summarizes one context for the query surface.
type ContextStats struct {
	Context    string           `json:"context"`
	Readings   uint64           `json:"readings"`
	Errors     uint64           `json:"errors"`
	Status     ContextStatus    `json:"status"`
	Level      models.RiskLevel `json:"level"`
	WindowFill map[string]int   `json:"window_fill"`
}

// Stats aggregates pipeline-wide counters.
type Stats struct {
	ReadingsProcessed uint64         `json:"readings_processed"`
	Assessments       uint64         `json:"assessments"`
	AlertsEmitted     uint64         `json:"alerts_emitted"`
	AlertsDropped     uint64         `json:"alerts_dropped"`
	Contexts          []ContextStats `json:"contexts"`
}

// Latest returns the most recent assessment for a context. Served even
// while the context is degraded, per the last-valid-result rule.
func (c *Coordinator) Latest(context string) (models.RiskAssessment, bool) {
	c.mu.RLock()
	state, ok := c.contexts[context]
	c.mu.RUnlock()
	if !ok {
		return models.RiskAssessment{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.assessments.Last()
}

// FeatureHistory returns up to n recent features for a context, oldest first.
func (c *Coordinator) FeatureHistory(context string, n int) []models.ProcessedFeature {
	c.mu.RLock()
	state, ok := c.contexts[context]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	state.mu.Lock()
	items := state.features.Items()
	state.mu.Unlock()
	return tail(items, n)
}

// AssessmentHistory returns up to n recent assessments for a context,
// oldest first.
func (c *Coordinator) AssessmentHistory(context string, n int) []models.RiskAssessment {
	c.mu.RLock()
	state, ok := c.contexts[context]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	state.mu.Lock()
	items := state.assessments.Items()
	state.mu.Unlock()
	return tail(items, n)
}

// RecentAlerts returns up to n recent alerts across all contexts,
// oldest first.
func (c *Coordinator) RecentAlerts(n int) []models.Alert {
	c.alertMu.Lock()
	items := c.alertLog.Items()
	c.alertMu.Unlock()
	return tail(items, n)
}

// AlertState returns the current alert state for a context.
func (c *Coordinator) AlertState(context string) (models.AlertState, bool) {
	c.mu.RLock()
	state, ok := c.contexts[context]
	c.mu.RUnlock()
	if !ok {
		return models.AlertState{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.sm.State(context)
}

// Status reports the best-effort health of a context.
func (c *Coordinator) Status(context string) ContextStatus {
	c.mu.RLock()
	state, ok := c.contexts[context]
	c.mu.RUnlock()
	if !ok {
		return StatusUnknown
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.degraded {
		return StatusDegraded
	}
	return StatusOK
}

// Stats snapshots pipeline-wide and per-context counters.
func (c *Coordinator) Stats() Stats {
	stats := Stats{
		ReadingsProcessed: c.readingsTotal.Load(),
		Assessments:       c.assessmentsTotal.Load(),
		AlertsEmitted:     c.alertsTotal.Load(),
		AlertsDropped:     c.alertsDropped.Load(),
	}

	c.mu.RLock()
	keys := make([]string, 0, len(c.contexts))
	for key := range c.contexts {
		keys = append(keys, key)
	}
	c.mu.RUnlock()
	sort.Strings(keys)

	for _, key := range keys {
		c.mu.RLock()
		state := c.contexts[key]
		c.mu.RUnlock()

		state.mu.Lock()
		cs := ContextStats{
			Context:    key,
			Readings:   state.readings,
			Errors:     state.errors,
			Status:     StatusOK,
			WindowFill: state.extractor.WindowFill(),
		}
		if state.degraded {
			cs.Status = StatusDegraded
		}
		if alertState, ok := state.sm.State(key); ok {
			cs.Level = alertState.Level
		}
		state.mu.Unlock()
		stats.Contexts = append(stats.Contexts, cs)
	}
	return stats
}

func tail[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}
