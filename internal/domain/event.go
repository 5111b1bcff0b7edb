package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AlertEvent is raised when a location's reading crosses a severity threshold upward.
type AlertEvent struct {
	ID         string    `json:"id"`
	Location   string    `json:"location"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Severity   string    `json:"severity"`
	Threshold  float64   `json:"threshold_mmh"`
	MMPerHour  float64   `json:"mm_per_hour"`
	Method     Method    `json:"method"`
	Provenance string    `json:"provenance"`
	Slot       TimeSlot  `json:"slot"`
	Recipients []string  `json:"recipients,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// HeartbeatEvent signals that the monitor is alive at a scheduled time of day.
type HeartbeatEvent struct {
	ID        string    `json:"id"`
	Scheduled string    `json:"scheduled"` // HH:MM in the heartbeat time zone
	Date      string    `json:"date"`      // YYYY-MM-DD in the heartbeat time zone
	Timestamp time.Time `json:"timestamp"`
	Locations int       `json:"locations"`
}

// Notifier delivers events to an external sink. Implementations must not
// retry indefinitely; failures are logged by the caller and never roll back
// alert state.
type Notifier interface {
	NotifyAlert(ctx context.Context, event AlertEvent) error
	NotifyHeartbeat(ctx context.Context, event HeartbeatEvent) error
}

// alertID produces a deterministic ID from the event's key fields so a
// replayed cycle publishes the same key.
func alertID(location, severity string, slot TimeSlot) string {
	input := fmt.Sprintf("%s|%s|%s|%s", location, severity, slot.BaseStamp(), slot.ValidStamp())
	hash := sha256.Sum256([]byte(input))
	return "alert-" + hex.EncodeToString(hash[:8])
}

func heartbeatID(date, scheduled string) string {
	hash := sha256.Sum256([]byte(date + "|" + scheduled))
	return "heartbeat-" + hex.EncodeToString(hash[:8])
}
