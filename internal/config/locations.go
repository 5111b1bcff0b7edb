package config

import (
	"context"
	"fmt"
	"os"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"gopkg.in/yaml.v3"
)

type locationsFile struct {
	Locations []locationEntry `yaml:"locations"`
}

type locationEntry struct {
	Name       string           `yaml:"name"`
	Lat        float64          `yaml:"lat"`
	Lon        float64          `yaml:"lon"`
	Enabled    *bool            `yaml:"enabled"`
	Recipients []string         `yaml:"recipients"`
	Thresholds []thresholdEntry `yaml:"thresholds"`
}

type thresholdEntry struct {
	Severity string  `yaml:"severity"`
	MMH      float64 `yaml:"mmh"`
}

// ParseLocations decodes a locations document. Missing thresholds default to
// heavy/torrential rain and a missing enabled flag means enabled.
func ParseLocations(data []byte) ([]domain.Location, error) {
	var doc locationsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse locations: %w", err)
	}

	out := make([]domain.Location, 0, len(doc.Locations))
	seen := make(map[string]bool, len(doc.Locations))
	for _, e := range doc.Locations {
		loc := domain.Location{
			Name:       e.Name,
			Lat:        e.Lat,
			Lon:        e.Lon,
			Recipients: e.Recipients,
			Enabled:    e.Enabled == nil || *e.Enabled,
		}
		for _, th := range e.Thresholds {
			loc.Thresholds = append(loc.Thresholds, domain.Threshold{Severity: th.Severity, MMPerHour: th.MMH})
		}
		if len(loc.Thresholds) == 0 {
			loc.Thresholds = domain.DefaultThresholds()
		}
		if err := loc.Validate(); err != nil {
			return nil, err
		}
		if seen[loc.Name] {
			return nil, fmt.Errorf("duplicate location %q", loc.Name)
		}
		seen[loc.Name] = true
		out = append(out, loc)
	}
	return out, nil
}

// FileLocations reads locations from a YAML file on every call, so edits
// take effect at the start of the next cycle.
type FileLocations struct {
	Path string
}

// Locations implements monitor.LocationSource. A missing file is an error so
// the monitor keeps its previous list while the file is being replaced.
func (f FileLocations) Locations(_ context.Context) ([]domain.Location, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read locations file: %w", err)
	}
	return ParseLocations(data)
}
