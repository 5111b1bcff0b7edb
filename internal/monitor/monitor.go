// Package monitor runs the periodic nowcast check: it resolves time slots,
// estimates intensities for every location and lead, and raises edge-triggered
// alerts for the decision lead.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrCycleInProgress is returned by RunOnce while another cycle holds the lock.
var ErrCycleInProgress = errors.New("monitor cycle already in progress")

// LocationSource supplies the configured locations. It is read once per cycle.
type LocationSource interface {
	Locations(ctx context.Context) ([]domain.Location, error)
}

// SlotResolver resolves the time slot for a lead.
type SlotResolver interface {
	Resolve(ctx context.Context, lead int) (domain.TimeSlot, error)
}

// Pruner trims side outputs after a cycle.
type Pruner interface {
	Prune() (int, error)
}

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerTick   Trigger = "tick"
	TriggerManual Trigger = "manual"
	TriggerOnce   Trigger = "once"
)

// Options configures a Monitor.
type Options struct {
	Interval        time.Duration
	Leads           []int
	DecisionLead    int
	NotifyAllLevels bool

	// Heartbeat is nil when heartbeats are disabled.
	Heartbeat *domain.HeartbeatSchedule
	Ledger    domain.HeartbeatLedger

	Pruner Pruner
	Clock  clockwork.Clock
}

// Monitor orchestrates monitor cycles.
type Monitor struct {
	locations LocationSource
	resolver  SlotResolver
	estimator *Estimator
	evaluator *domain.ThresholdEvaluator
	notifier  domain.Notifier
	opts      Options
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	cycleMu sync.Mutex
	ready   atomic.Bool
	series  map[string]bool // locations with reading gauges; guarded by cycleMu

	mu        sync.RWMutex
	last      *CycleReport
	lastKnown []domain.Location
}

// New creates a Monitor. A nil ledger keeps heartbeat claims in memory.
func New(
	locations LocationSource,
	resolver SlotResolver,
	estimator *Estimator,
	evaluator *domain.ThresholdEvaluator,
	notifier domain.Notifier,
	opts Options,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Ledger == nil {
		opts.Ledger = domain.NewMemoryLedger()
	}
	return &Monitor{
		locations: locations,
		resolver:  resolver,
		estimator: estimator,
		evaluator: evaluator,
		notifier:  notifier,
		opts:      opts,
		clock:     opts.Clock,
		logger:    logger,
		metrics:   metrics,
		series:    make(map[string]bool),
	}
}

// Run executes a cycle immediately and then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started",
		"interval", m.opts.Interval,
		"leads", m.opts.Leads,
		"decision_lead", m.opts.DecisionLead,
	)
	m.metrics.MonitorRunning.Set(1)
	defer m.metrics.MonitorRunning.Set(0)

	ticker := m.clock.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if _, err := m.RunOnce(ctx, TriggerTick); errors.Is(err, ErrCycleInProgress) {
		m.logger.Warn("tick skipped, cycle still running")
	}
}

// RunOnce executes a single cycle. It never overlaps another cycle.
func (m *Monitor) RunOnce(ctx context.Context, trigger Trigger) (*CycleReport, error) {
	if !m.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer m.cycleMu.Unlock()

	report := m.cycle(ctx, trigger)

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	m.ready.Store(true)
	return report, nil
}

// CheckReadiness returns nil once a cycle has completed.
func (m *Monitor) CheckReadiness(_ context.Context) error {
	if !m.ready.Load() {
		return errors.New("monitor has not completed a cycle yet")
	}
	return nil
}

// LastReport returns the most recent cycle report, or nil before the first cycle.
func (m *Monitor) LastReport() *CycleReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// States returns the evaluator's current threshold states.
func (m *Monitor) States() []domain.StateEntry {
	return m.evaluator.Snapshot()
}

func (m *Monitor) cycle(ctx context.Context, trigger Trigger) *CycleReport {
	start := m.clock.Now()
	report := &CycleReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: start,
		Slots:     make(map[string]domain.TimeSlot),
	}
	logger := m.logger.With("cycle_id", report.ID)

	all := m.loadLocations(ctx, logger)
	keep := make(map[string]bool, len(all))
	var enabled []domain.Location
	for _, loc := range all {
		keep[loc.Name] = true
		if loc.Enabled {
			enabled = append(enabled, loc)
		}
	}
	m.evaluator.Forget(keep)
	m.dropSeries(keep)
	report.Locations = len(enabled)

	if m.opts.Heartbeat != nil {
		m.heartbeat(ctx, start, len(enabled), report, logger)
	}

	slots := m.resolveSlots(ctx, report, logger)

	for _, loc := range enabled {
		if ctx.Err() != nil {
			report.Cancelled = true
			logger.Info("cycle cancelled", "reason", ctx.Err())
			break
		}
		for _, lead := range m.opts.Leads {
			slot, ok := slots[lead]
			if !ok {
				continue
			}
			m.processPair(ctx, loc, lead, slot, report, logger)
		}
	}

	if m.opts.Pruner != nil {
		if n, err := m.opts.Pruner.Prune(); err != nil {
			logger.Warn("prune debug overlays failed", "error", err)
		} else if n > 0 {
			logger.Debug("pruned debug overlays", "removed", n)
		}
	}

	report.FinishedAt = m.clock.Now()
	elapsed := report.FinishedAt.Sub(start)
	m.metrics.CyclesTotal.WithLabelValues(string(trigger)).Inc()
	m.metrics.CycleDuration.Observe(elapsed.Seconds())
	m.metrics.LastCycle.Set(float64(report.FinishedAt.Unix()))

	logger.Info("cycle complete",
		"trigger", trigger,
		"locations", report.Locations,
		"pairs", len(report.Results),
		"failures", report.Failures(),
		"alerts", len(report.Alerts),
		"duration", elapsed,
	)
	return report
}

// loadLocations falls back to the last good list when the source fails.
// dropSeries removes reading gauges of locations no longer configured.
func (m *Monitor) dropSeries(keep map[string]bool) {
	for name := range m.series {
		if !keep[name] {
			m.metrics.Readings.DeletePartialMatch(prometheus.Labels{"location": name})
			delete(m.series, name)
		}
	}
}

func (m *Monitor) loadLocations(ctx context.Context, logger *slog.Logger) []domain.Location {
	locs, err := m.locations.Locations(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		logger.Error("load locations failed, using previous list", "error", err, "count", len(m.lastKnown))
		return m.lastKnown
	}
	m.lastKnown = locs
	return locs
}

func (m *Monitor) resolveSlots(ctx context.Context, report *CycleReport, logger *slog.Logger) map[int]domain.TimeSlot {
	slots := make(map[int]domain.TimeSlot, len(m.opts.Leads))
	for _, lead := range m.opts.Leads {
		slot, err := m.resolver.Resolve(ctx, lead)
		if err != nil {
			logger.Warn("slot resolution failed, skipping lead", "lead", lead, "error", err)
			m.metrics.PairFailures.WithLabelValues(StageSlot).Inc()
			report.SlotErrors = append(report.SlotErrors, SlotFailure{Lead: lead, Error: err.Error()})
			continue
		}
		slots[lead] = slot
		report.Slots[strconv.Itoa(lead)] = slot
		logger.Debug("slot resolved", "lead", lead, "basetime", slot.BaseStamp(), "validtime", slot.ValidStamp())
	}
	return slots
}

func (m *Monitor) processPair(ctx context.Context, loc domain.Location, lead int, slot domain.TimeSlot, report *CycleReport, logger *slog.Logger) {
	logger = logger.With("location", loc.Name, "lead", lead)
	result := PairResult{Location: loc.Name, Lead: lead, Slot: slot}

	est, err := m.estimator.Estimate(ctx, loc, slot)
	result.Tile, result.Pixel = est.Tile, est.Pixel
	result.MeshMeters = domain.MetersPerPixel(loc.Lat, est.Tile.Zoom)

	var decErr *domain.DecodeError
	switch {
	case err == nil:
	case errors.As(err, &decErr):
		logger.Warn("tile decode failed, using zero intensity", "error", err)
		m.metrics.PairFailures.WithLabelValues(StageDecode).Inc()
		result.Stage, result.Error = StageDecode, err.Error()
	default:
		logger.Warn("tile fetch failed, skipping pair", "error", err)
		m.metrics.PairFailures.WithLabelValues(StageFetch).Inc()
		result.Stage, result.Error = StageFetch, err.Error()
		report.Results = append(report.Results, result)
		return
	}

	result.Readings = orderedReadings(est.Readings)
	leadLabel := strconv.Itoa(lead)
	for _, r := range result.Readings {
		m.metrics.Readings.WithLabelValues(loc.Name, leadLabel, string(r.Method)).Set(r.MMPerHour)
	}
	m.series[loc.Name] = true
	logPreview(logger, est, result.MeshMeters)

	decision := est.Decision()
	if decision.Diverged {
		m.metrics.Divergences.Inc()
		logger.Warn("colour and step estimates diverge", "mm_per_hour", decision.MMPerHour, "step", decision.Step)
	}

	if lead == m.opts.DecisionLead {
		m.evaluate(ctx, loc, decision, report, logger)
	}
	report.Results = append(report.Results, result)
}

func (m *Monitor) evaluate(ctx context.Context, loc domain.Location, reading domain.IntensityReading, report *CycleReport, logger *slog.Logger) {
	events := m.evaluator.Evaluate(loc, reading)
	if !m.opts.NotifyAllLevels {
		events = domain.HighestSeverity(events)
	}
	for _, ev := range events {
		m.metrics.AlertsRaised.WithLabelValues(ev.Severity).Inc()
		report.Alerts = append(report.Alerts, ev)
		if err := m.notifier.NotifyAlert(ctx, ev); err != nil {
			nerr := &domain.NotifierError{Kind: "alert", Err: err}
			m.metrics.NotifyFailures.WithLabelValues("alert").Inc()
			logger.Error("alert delivery failed", "id", ev.ID, "severity", ev.Severity, "error", nerr)
		}
	}
}

// heartbeat claims each due slot before sending, so a failed send is not retried.
func (m *Monitor) heartbeat(ctx context.Context, now time.Time, locations int, report *CycleReport, logger *slog.Logger) {
	for _, slot := range m.opts.Heartbeat.Due(now) {
		claimed, err := m.opts.Ledger.Claim(ctx, slot.Date, slot.Scheduled)
		if err != nil {
			logger.Error("heartbeat ledger failed", "date", slot.Date, "scheduled", slot.Scheduled, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		ev := domain.NewHeartbeatEvent(slot, now, locations)
		report.Heartbeats = append(report.Heartbeats, ev)
		if err := m.notifier.NotifyHeartbeat(ctx, ev); err != nil {
			m.metrics.NotifyFailures.WithLabelValues("heartbeat").Inc()
			logger.Error("heartbeat delivery failed", "scheduled", slot.Scheduled, "error", &domain.NotifierError{Kind: "heartbeat", Err: err})
			continue
		}
		m.metrics.HeartbeatsSent.Inc()
		logger.Info("heartbeat sent", "date", slot.Date, "scheduled", slot.Scheduled)
	}
}

func orderedReadings(readings map[domain.Method]domain.IntensityReading) []domain.IntensityReading {
	out := make([]domain.IntensityReading, 0, len(readings))
	for _, m := range domain.AllMethods {
		if r, ok := readings[m]; ok {
			out = append(out, r)
		}
	}
	return out
}

func logPreview(logger *slog.Logger, est Estimate, mesh float64) {
	attrs := []any{
		"tile", est.Tile,
		"pixel", est.Pixel,
		"mesh_m", mesh,
	}
	for _, m := range domain.AllMethods {
		if r, ok := est.Readings[m]; ok {
			attrs = append(attrs, string(m), r.MMPerHour)
		}
	}
	logger.Info("reading preview", attrs...)
}
