package domain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// TimeOfDay is an HH:MM wall-clock time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// HeartbeatSlot is one scheduled heartbeat on a specific day.
type HeartbeatSlot struct {
	Date      string // YYYY-MM-DD
	Scheduled string // HH:MM
	At        time.Time
}

// HeartbeatSchedule decides which heartbeats are due.
type HeartbeatSchedule struct {
	Times []TimeOfDay
	Zone  *time.Location
	// Grace is how long after the scheduled time a heartbeat may still be sent.
	// It should be at least the cycle interval so no tick skips over a slot.
	Grace time.Duration
}

// Due returns the slots with At <= now < At+Grace, evaluated in the schedule's zone.
func (s HeartbeatSchedule) Due(now time.Time) []HeartbeatSlot {
	zone := s.Zone
	if zone == nil {
		zone = time.UTC
	}
	grace := max(s.Grace, time.Minute)
	local := now.In(zone)

	var due []HeartbeatSlot
	for _, t := range s.Times {
		// a slot late in the previous day may still be inside its grace window
		for _, day := range []time.Time{local, local.AddDate(0, 0, -1)} {
			at := time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, zone)
			if !local.Before(at) && local.Before(at.Add(grace)) {
				due = append(due, HeartbeatSlot{Date: at.Format(time.DateOnly), Scheduled: t.String(), At: at})
				break
			}
		}
	}
	return due
}

// NewHeartbeatEvent builds the event for a due slot.
func NewHeartbeatEvent(slot HeartbeatSlot, now time.Time, locations int) HeartbeatEvent {
	return HeartbeatEvent{
		ID:        heartbeatID(slot.Date, slot.Scheduled),
		Scheduled: slot.Scheduled,
		Date:      slot.Date,
		Timestamp: now,
		Locations: locations,
	}
}

// HeartbeatLedger records sent heartbeats. Claim marks (date, scheduled) as
// sent and reports whether this call was the first to do so.
type HeartbeatLedger interface {
	Claim(ctx context.Context, date, scheduled string) (bool, error)
}

// MemoryLedger is a process-lifetime HeartbeatLedger.
type MemoryLedger struct {
	mu   sync.Mutex
	sent map[string]bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{sent: make(map[string]bool)}
}

func (l *MemoryLedger) Claim(_ context.Context, date, scheduled string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := date + " " + scheduled
	if l.sent[key] {
		return false, nil
	}
	l.sent[key] = true
	return true, nil
}
