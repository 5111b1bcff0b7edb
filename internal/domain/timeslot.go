package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// SlotCadence is the issuance interval of the nowcast product.
const SlotCadence = 5 * time.Minute

// MaxLeadMinutes is the furthest forecast the product publishes.
const MaxLeadMinutes = 60

// timeLayout is the JMA metadata and URL timestamp format (UTC).
const timeLayout = "20060102150405"

// Product selects the metadata file a lead time is resolved against.
type Product string

const (
	ProductAnalysis Product = "N1" // lead 0
	ProductForecast Product = "N2" // leads 5..60
)

// Issuance is one (basetime, validtime) pair listed in the metadata.
// ValidTime equals BaseTime for analyses and for bare-string metadata.
type Issuance struct {
	BaseTime  time.Time
	ValidTime time.Time
}

// TimeSlot identifies one raster: the snapshot it belongs to and the instant it depicts.
type TimeSlot struct {
	BaseTime    time.Time `json:"base_time"`
	ValidTime   time.Time `json:"valid_time"`
	LeadMinutes int       `json:"lead_minutes"`
}

// BaseStamp formats the base time as used in tile URLs.
func (s TimeSlot) BaseStamp() string { return s.BaseTime.UTC().Format(timeLayout) }

// ValidStamp formats the valid time as used in tile URLs.
func (s TimeSlot) ValidStamp() string { return s.ValidTime.UTC().Format(timeLayout) }

// ParseStamp parses a JMA "YYYYMMDDhhmmss" UTC timestamp.
func ParseStamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stamp %q: %w", s, err)
	}
	return t, nil
}

// IssuanceSource lists the issuances currently published for a product.
type IssuanceSource interface {
	Issuances(ctx context.Context, product Product) ([]Issuance, error)
}

// NormalizeLead rounds a lead to the 5-minute cadence and clamps it to 0..60.
func NormalizeLead(lead int) int {
	step := int(SlotCadence / time.Minute)
	rounded := ((lead + step/2) / step) * step
	if lead < 0 {
		rounded = 0
	}
	if rounded > MaxLeadMinutes {
		return MaxLeadMinutes
	}
	return rounded
}

// ProductForLead returns the metadata product that covers a lead.
func ProductForLead(lead int) Product {
	if NormalizeLead(lead) == 0 {
		return ProductAnalysis
	}
	return ProductForecast
}

// ResolveSlot picks the slot for lead given the issuances published at now.
//
// Lead 0 resolves to the latest issuance at or before now floored to the
// cadence, with valid == base. A forecast lead targets floor5(now+lead) and
// takes the latest base at or before now that lists that valid time. Bare
// metadata without valid times falls back to the latest base, provided the
// target stays within the product's forecast range of it.
func ResolveSlot(now time.Time, lead int, issuances []Issuance) (TimeSlot, error) {
	lead = NormalizeLead(lead)
	if len(issuances) == 0 {
		return TimeSlot{}, &SlotResolutionError{LeadMinutes: lead, Err: ErrNoIssuance}
	}

	cutoff := now.UTC().Truncate(SlotCadence)
	latest := latestBase(issuances, cutoff)
	if latest.IsZero() {
		return TimeSlot{}, &SlotResolutionError{
			LeadMinutes: lead,
			Err:         fmt.Errorf("%w at or before %s", ErrNoIssuance, cutoff.Format(timeLayout)),
		}
	}
	if lead == 0 {
		return TimeSlot{BaseTime: latest, ValidTime: latest}, nil
	}

	target := now.UTC().Add(time.Duration(lead) * time.Minute).Truncate(SlotCadence)
	var best time.Time
	listed := false
	for _, is := range issuances {
		base := is.BaseTime.UTC().Truncate(SlotCadence)
		if base.After(cutoff) || is.ValidTime.IsZero() {
			continue
		}
		v := is.ValidTime.UTC().Truncate(SlotCadence)
		if v.Equal(base) {
			continue
		}
		listed = true
		if v.Equal(target) && base.After(best) {
			best = base
		}
	}

	switch {
	case !best.IsZero():
		return TimeSlot{BaseTime: best, ValidTime: target, LeadMinutes: lead}, nil
	case listed:
		return TimeSlot{}, &SlotResolutionError{LeadMinutes: lead, Err: ErrLeadNotPublished}
	case target.Sub(latest) > MaxLeadMinutes*time.Minute:
		return TimeSlot{}, &SlotResolutionError{
			LeadMinutes: lead,
			Err:         fmt.Errorf("%w: %s is beyond base %s", ErrLeadNotPublished, target.Format(timeLayout), latest.Format(timeLayout)),
		}
	}
	return TimeSlot{BaseTime: latest, ValidTime: target, LeadMinutes: lead}, nil
}

func latestBase(issuances []Issuance, cutoff time.Time) time.Time {
	var latest time.Time
	for _, is := range issuances {
		base := is.BaseTime.UTC().Truncate(SlotCadence)
		if !base.After(cutoff) && base.After(latest) {
			latest = base
		}
	}
	return latest
}

// SlotResolver resolves slots against live metadata.
type SlotResolver struct {
	source IssuanceSource
	clock  clockwork.Clock
}

// NewSlotResolver creates a resolver. A nil clock uses real time.
func NewSlotResolver(source IssuanceSource, c clockwork.Clock) *SlotResolver {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &SlotResolver{source: source, clock: c}
}

// Resolve returns the slot for one lead. Metadata fetch failures are reported
// as *SlotResolutionError so callers can treat every failure the same way.
func (r *SlotResolver) Resolve(ctx context.Context, lead int) (TimeSlot, error) {
	lead = NormalizeLead(lead)
	issuances, err := r.source.Issuances(ctx, ProductForLead(lead))
	if err != nil {
		return TimeSlot{}, &SlotResolutionError{LeadMinutes: lead, Err: err}
	}
	return ResolveSlot(r.clock.Now(), lead, issuances)
}
