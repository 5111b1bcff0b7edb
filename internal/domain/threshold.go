package domain

import (
	"sort"
	"sync"
	"time"
)

// ThresholdState is the last known position of a reading relative to a threshold.
type ThresholdState int

const (
	StateBelow ThresholdState = iota
	StateAbove
)

func (s ThresholdState) String() string {
	if s == StateAbove {
		return "ABOVE"
	}
	return "BELOW"
}

type stateKey struct {
	location string
	severity string
}

// StateEntry is one (location, severity) record, as exposed for status output.
type StateEntry struct {
	Location string `json:"location"`
	Severity string `json:"severity"`
	State    string `json:"state"`
}

// ThresholdEvaluator turns a sequence of readings into edge-triggered alerts.
// Each instance owns its state; separate instances never share it.
type ThresholdEvaluator struct {
	mu           sync.Mutex
	states       map[stateKey]ThresholdState
	lastNotified map[stateKey]time.Time
	cooldown     time.Duration
}

// EvaluatorOption configures a ThresholdEvaluator.
type EvaluatorOption func(*ThresholdEvaluator)

// WithCooldown drops alert events for a (location, severity) whose previous
// event is younger than d. The state transition still happens. Zero disables it.
func WithCooldown(d time.Duration) EvaluatorOption {
	return func(e *ThresholdEvaluator) { e.cooldown = d }
}

// NewThresholdEvaluator creates an evaluator with every state BELOW.
func NewThresholdEvaluator(opts ...EvaluatorOption) *ThresholdEvaluator {
	e := &ThresholdEvaluator{
		states:       make(map[stateKey]ThresholdState),
		lastNotified: make(map[stateKey]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate applies one reading to every threshold of loc, in ascending order,
// and returns the events for thresholds that went from BELOW to ABOVE.
func (e *ThresholdEvaluator) Evaluate(loc Location, reading IntensityReading) []AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []AlertEvent
	for _, th := range loc.SortedThresholds() {
		key := stateKey{location: loc.Name, severity: th.Severity}
		above := reading.MMPerHour >= th.MMPerHour

		prev, tracked := e.states[key]
		if !tracked {
			e.states[key] = StateBelow
		}

		switch {
		case above && prev == StateBelow:
			e.states[key] = StateAbove
			now := clock.Now()
			if last, ok := e.lastNotified[key]; ok && e.cooldown > 0 && now.Sub(last) < e.cooldown {
				continue
			}
			e.lastNotified[key] = now
			events = append(events, AlertEvent{
				ID:         alertID(loc.Name, th.Severity, reading.Slot),
				Location:   loc.Name,
				Lat:        loc.Lat,
				Lon:        loc.Lon,
				Severity:   th.Severity,
				Threshold:  th.MMPerHour,
				MMPerHour:  reading.MMPerHour,
				Method:     reading.Method,
				Provenance: string(reading.Provenance),
				Slot:       reading.Slot,
				Recipients: loc.Recipients,
				DetectedAt: now,
			})
		case !above && prev == StateAbove:
			e.states[key] = StateBelow
		}
	}
	return events
}

// State returns the current state for a (location, severity) pair.
func (e *ThresholdEvaluator) State(location, severity string) ThresholdState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[stateKey{location: location, severity: severity}]
}

// Snapshot lists every tracked pair sorted by location then severity.
func (e *ThresholdEvaluator) Snapshot() []StateEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StateEntry, 0, len(e.states))
	for k, s := range e.states {
		out = append(out, StateEntry{Location: k.location, Severity: k.severity, State: s.String()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Severity < out[j].Severity
	})
	return out
}

// Forget drops the state of locations not in keep, e.g. after removal from configuration.
func (e *ThresholdEvaluator) Forget(keep map[string]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.states {
		if !keep[k.location] {
			delete(e.states, k)
			delete(e.lastNotified, k)
		}
	}
}

// Reset returns every pair to BELOW.
func (e *ThresholdEvaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.states)
	clear(e.lastNotified)
}

// HighestSeverity keeps only the highest-threshold event per location,
// preserving the order in which locations first appear.
func HighestSeverity(events []AlertEvent) []AlertEvent {
	best := make(map[string]int, len(events))
	var out []AlertEvent
	for _, ev := range events {
		i, ok := best[ev.Location]
		if !ok {
			best[ev.Location] = len(out)
			out = append(out, ev)
			continue
		}
		if ev.Threshold > out[i].Threshold {
			out[i] = ev
		}
	}
	return out
}
