// Package pipeline sequences readings through feature extraction, risk
// scoring, and alert-state transitions, one context at a time.
package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/agriguard/cropsentinel/internal/alerting"
	"github.com/agriguard/cropsentinel/internal/features"
	"github.com/agriguard/cropsentinel/internal/logger"
	"github.com/agriguard/cropsentinel/internal/metrics"
	"github.com/agriguard/cropsentinel/internal/models"
	"github.com/agriguard/cropsentinel/internal/risk"
)

// ErrClosed is returned by Process after Close has been called.
var ErrClosed = errors.New("pipeline closed")

// Overflow policies for the alert handoff queue.
const (
	OverflowBlock      = "block"
	OverflowDropOldest = "drop-oldest"
)

// Store receives produced records for persistence. Failures are logged
// and never fail the pipeline.
type Store interface {
	SaveReading(models.Reading) error
	SaveFeature(models.ProcessedFeature) error
	SaveAssessment(models.RiskAssessment) error
	SaveAlert(models.Alert) error
}

// Config tunes the coordinator's buffers and handoff behavior.
type Config struct {
	HistorySize    int
	AlertQueueSize int
	AlertLogSize   int
	// OverflowPolicy decides what happens when the alert queue is full:
	// OverflowBlock stalls the producing context, OverflowDropOldest
	// evicts the oldest queued alert and counts the drop. Either way a
	// drop is reported, never silent.
	OverflowPolicy string
}

// DefaultConfig returns the reference buffer sizes.
func DefaultConfig() Config {
	return Config{
		HistorySize:    60,
		AlertQueueSize: 64,
		AlertLogSize:   100,
		OverflowPolicy: OverflowBlock,
	}
}

// contextState is the single-writer state for one crop context. Its mutex
// is held for the duration of one reading's processing and released before
// any collaborator handoff.
type contextState struct {
	mu          sync.Mutex
	extractor   *features.Extractor
	sm          *alerting.StateMachine
	features    *ring[models.ProcessedFeature]
	assessments *ring[models.RiskAssessment]
	readings    uint64
	errors      uint64
	degraded    bool
}

// Coordinator owns all per-context pipeline state and the collaborator
// handoff queues.
type Coordinator struct {
	cfg     Config
	featCfg features.Config
	engine  *risk.Engine

	mu       sync.RWMutex
	contexts map[string]*contextState

	alertCh  chan models.Alert
	alertLog *ring[models.Alert]
	alertMu  sync.Mutex

	persistCh chan persistRecord
	persistWG sync.WaitGroup

	inflight sync.WaitGroup
	closed   atomic.Bool

	store Store
	mets  *metrics.Metrics

	readingsTotal    atomic.Uint64
	assessmentsTotal atomic.Uint64
	alertsTotal      atomic.Uint64
	alertsDropped    atomic.Uint64
}

type persistRecord struct {
	reading    *models.Reading
	feature    *models.ProcessedFeature
	assessment *models.RiskAssessment
	alert      *models.Alert
}

// New creates a coordinator. store and mets may be nil.
func New(cfg Config, featCfg features.Config, engine *risk.Engine, store Store, mets *metrics.Metrics) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		featCfg:   featCfg,
		engine:    engine,
		contexts:  make(map[string]*contextState),
		alertCh:   make(chan models.Alert, cfg.AlertQueueSize),
		alertLog:  newRing[models.Alert](cfg.AlertLogSize),
		persistCh: make(chan persistRecord, 256),
		store:     store,
		mets:      mets,
	}
	c.persistWG.Add(1)
	go c.persistLoop()
	return c
}

// Alerts is the handoff channel consumed by the notification collaborator.
// It is closed by Close after all in-flight readings finish.
func (c *Coordinator) Alerts() <-chan models.Alert {
	return c.alertCh
}

func (c *Coordinator) context(key string) *contextState {
	c.mu.RLock()
	state, ok := c.contexts[key]
	c.mu.RUnlock()
	if ok {
		return state
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.contexts[key]; ok {
		return state
	}
	state = &contextState{
		extractor:   features.New(c.featCfg),
		sm:          alerting.New(),
		features:    newRing[models.ProcessedFeature](c.cfg.HistorySize),
		assessments: newRing[models.RiskAssessment](c.cfg.HistorySize),
	}
	c.contexts[key] = state
	logger.Debug("Created pipeline state for new context %q", key)
	return state
}

// Process runs one reading through the full pipeline. Readings for one
// context must arrive in order; distinct contexts may call concurrently.
// Per-reading failures degrade the context and return an error without
// affecting other contexts.
func (c *Coordinator) Process(reading models.Reading) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.inflight.Add(1)
	defer c.inflight.Done()

	key := reading.Context()
	state := c.context(key)

	state.mu.Lock()
	state.readings++

	feature, err := state.extractor.Extract(reading)
	if err != nil {
		state.errors++
		state.degraded = true
		state.mu.Unlock()
		if c.mets != nil {
			c.mets.ReadingErrors.WithLabelValues(key).Inc()
		}
		return err
	}

	assessment, err := c.engine.Assess(feature, state.assessments.Items())
	if err != nil {
		state.errors++
		state.degraded = true
		state.mu.Unlock()
		if c.mets != nil {
			c.mets.ReadingErrors.WithLabelValues(key).Inc()
		}
		return err
	}

	alert := state.sm.OnAssessment(assessment)

	state.features.Push(feature)
	state.assessments.Push(assessment)
	state.degraded = feature.Degraded
	fill := state.extractor.WindowFill()
	state.mu.Unlock()

	c.readingsTotal.Add(1)
	c.assessmentsTotal.Add(1)
	if c.mets != nil {
		c.mets.ReadingsProcessed.WithLabelValues(key).Inc()
		c.mets.RiskScore.WithLabelValues(key).Set(float64(assessment.Score))
		for signal, count := range fill {
			c.mets.WindowFill.WithLabelValues(key, signal).Set(float64(count))
		}
		if feature.Degraded {
			c.mets.ReadingErrors.WithLabelValues(key).Inc()
		}
	}

	c.enqueuePersist(persistRecord{reading: &reading})
	c.enqueuePersist(persistRecord{feature: &feature})
	c.enqueuePersist(persistRecord{assessment: &assessment})

	if alert != nil {
		c.emitAlert(*alert)
	}
	return nil
}

// emitAlert hands the alert to the notification queue. Alerts are never
// silently lost: a full queue either blocks the producer or drops the
// oldest queued alert with an explicit count and log line.
func (c *Coordinator) emitAlert(alert models.Alert) {
	c.alertsTotal.Add(1)
	if c.mets != nil {
		c.mets.AlertsEmitted.WithLabelValues(alert.CropType).Inc()
	}

	c.alertMu.Lock()
	c.alertLog.Push(alert)
	c.alertMu.Unlock()

	c.enqueuePersist(persistRecord{alert: &alert})

	if c.cfg.OverflowPolicy == OverflowDropOldest {
		for {
			select {
			case c.alertCh <- alert:
				return
			default:
				select {
				case dropped := <-c.alertCh:
					c.alertsDropped.Add(1)
					if c.mets != nil {
						c.mets.AlertsDropped.Inc()
					}
					logger.Error("Alert handoff queue full, dropped alert %s for context %s",
						dropped.ID, dropped.CropType)
				default:
				}
			}
		}
	}
	c.alertCh <- alert
}

func (c *Coordinator) enqueuePersist(rec persistRecord) {
	if c.store == nil {
		return
	}
	select {
	case c.persistCh <- rec:
	default:
		// Persistence is best-effort; history buffers and alert handoff
		// keep their own guarantees.
		logger.Warn("Persistence queue full, skipping record")
	}
}

func (c *Coordinator) persistLoop() {
	defer c.persistWG.Done()
	for rec := range c.persistCh {
		var err error
		switch {
		case rec.reading != nil:
			err = c.store.SaveReading(*rec.reading)
		case rec.feature != nil:
			err = c.store.SaveFeature(*rec.feature)
		case rec.assessment != nil:
			err = c.store.SaveAssessment(*rec.assessment)
		case rec.alert != nil:
			err = c.store.SaveAlert(*rec.alert)
		}
		if err != nil {
			logger.Warn("Persistence failed: %v", err)
		}
	}
}

// Close stops intake, waits for in-flight readings to finish, then closes
// the alert and persistence handoffs. Processing of a single reading is
// atomic; cancellation never interrupts one mid-flight.
func (c *Coordinator) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.inflight.Wait()
	close(c.alertCh)
	close(c.persistCh)
	c.persistWG.Wait()
	logger.Info("Pipeline closed: %d readings, %d assessments, %d alerts (%d dropped)",
		c.readingsTotal.Load(), c.assessmentsTotal.Load(), c.alertsTotal.Load(), c.alertsDropped.Load())
}
