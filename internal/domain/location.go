package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Default severities applied when a location does not configure its own.
const (
	SeverityHeavyRain      = "heavy_rain"
	SeverityTorrentialRain = "torrential_rain"
)

// Threshold is one severity level of a location, in mm/h.
type Threshold struct {
	Severity  string  `json:"severity"`
	MMPerHour float64 `json:"mmh"`
}

// DefaultThresholds returns the heavy/torrential pair used by the JMA warning criteria.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Severity: SeverityHeavyRain, MMPerHour: 30},
		{Severity: SeverityTorrentialRain, MMPerHour: 50},
	}
}

// Location is a monitored geographic point. Name is the unique key.
type Location struct {
	Name       string      `json:"name"`
	Lat        float64     `json:"lat"`
	Lon        float64     `json:"lon"`
	Thresholds []Threshold `json:"thresholds"`
	Recipients []string    `json:"recipients,omitempty"`
	Enabled    bool        `json:"enabled"`
}

// SortedThresholds returns the thresholds in ascending mm/h order without
// modifying the location.
func (l Location) SortedThresholds() []Threshold {
	out := make([]Threshold, len(l.Thresholds))
	copy(out, l.Thresholds)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MMPerHour < out[j].MMPerHour })
	return out
}

// Validate checks the fields the monitor relies on.
func (l Location) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("location name is required")
	}
	if l.Lat < -85.0511 || l.Lat > 85.0511 {
		return fmt.Errorf("location %q: latitude %v out of range", l.Name, l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("location %q: longitude %v out of range", l.Name, l.Lon)
	}
	seen := make(map[string]bool, len(l.Thresholds))
	for _, th := range l.Thresholds {
		if th.Severity == "" {
			return fmt.Errorf("location %q: threshold severity is required", l.Name)
		}
		if seen[th.Severity] {
			return fmt.Errorf("location %q: duplicate severity %q", l.Name, th.Severity)
		}
		seen[th.Severity] = true
		if th.MMPerHour <= 0 {
			return fmt.Errorf("location %q: threshold %q must be positive", l.Name, th.Severity)
		}
	}
	return nil
}
