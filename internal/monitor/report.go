package monitor

import (
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
)

// Failure stages of a (location, lead) pair.
const (
	StageSlot   = "slot"
	StageFetch  = "fetch"
	StageDecode = "decode"
)

// CycleReport summarises one monitor cycle.
type CycleReport struct {
	ID         string                     `json:"id"`
	Trigger    Trigger                    `json:"trigger"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Cancelled  bool                       `json:"cancelled,omitempty"`
	Locations  int                        `json:"locations"`
	Slots      map[string]domain.TimeSlot `json:"slots"` // keyed by lead minutes
	SlotErrors []SlotFailure              `json:"slot_errors,omitempty"`
	Results    []PairResult               `json:"results"`
	Alerts     []domain.AlertEvent        `json:"alerts,omitempty"`
	Heartbeats []domain.HeartbeatEvent    `json:"heartbeats,omitempty"`
}

// SlotFailure records a lead that could not be resolved.
type SlotFailure struct {
	Lead  int    `json:"lead"`
	Error string `json:"error"`
}

// PairResult is the outcome for one (location, lead) pair.
type PairResult struct {
	Location   string                    `json:"location"`
	Lead       int                       `json:"lead"`
	Slot       domain.TimeSlot           `json:"slot"`
	Tile       domain.TileCoord          `json:"tile"`
	Pixel      domain.PixelCoord         `json:"pixel"`
	MeshMeters float64                   `json:"mesh_m"`
	Readings   []domain.IntensityReading `json:"readings,omitempty"`
	Stage      string                    `json:"failed_stage,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// Reading returns the pair's reading for a method.
func (p PairResult) Reading(m domain.Method) (domain.IntensityReading, bool) {
	for _, r := range p.Readings {
		if r.Method == m {
			return r, true
		}
	}
	return domain.IntensityReading{}, false
}

// Failures counts skipped leads and failed pairs.
func (r *CycleReport) Failures() int {
	n := len(r.SlotErrors)
	for _, p := range r.Results {
		if p.Stage != "" {
			n++
		}
	}
	return n
}
