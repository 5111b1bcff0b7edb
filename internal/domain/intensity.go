package domain

import (
	"fmt"
	"math"
	"strings"
)

// StepScale selects how a palette step converts to mm/h.
type StepScale int

const (
	// StepScaleBanded rounds the linear value up to the JMA legend class bound.
	StepScaleBanded StepScale = iota
	// StepScaleLinear reads steps 1..60 directly as mm/h.
	StepScaleLinear
)

func (s StepScale) String() string {
	if s == StepScaleLinear {
		return "linear"
	}
	return "banded"
}

// ParseStepScale accepts "banded" (alias "jma_bins") and "linear" (alias "identity").
func ParseStepScale(s string) (StepScale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "banded", "jma_bins":
		return StepScaleBanded, nil
	case "linear", "identity":
		return StepScaleLinear, nil
	default:
		return 0, fmt.Errorf("unknown step scale %q", s)
	}
}

// MaxStep is the highest step the palette encodes.
const MaxStep = 65

// extendedSteps covers the top of the palette, where steps stop being linear.
var extendedSteps = map[int]float64{61: 80, 62: 100, 63: 150, 64: 200, 65: 300}

// legendBounds are the upper bounds of the JMA legend classes up to 80 mm/h.
var legendBounds = []float64{1, 5, 10, 20, 30, 50, 80}

// StepToMMPerHour converts a palette step to mm/h. Steps <= 0 are dry and
// steps above MaxStep read as MaxStep. The result is non-decreasing in step.
func StepToMMPerHour(step int, scale StepScale) float64 {
	if step <= 0 {
		return 0
	}
	if step > MaxStep {
		step = MaxStep
	}
	linear, ok := extendedSteps[step]
	if !ok {
		linear = float64(step)
	}
	if scale == StepScaleLinear {
		return linear
	}
	for _, bound := range legendBounds {
		if linear <= bound {
			return bound
		}
	}
	return linear
}

// colorClass is one legend entry, reported by its upper bound.
type colorClass struct {
	r, g, b   uint8
	mmPerHour float64
}

var colorClasses = []colorClass{
	{242, 242, 255, 1},
	{160, 210, 255, 5},
	{33, 140, 255, 10},
	{0, 65, 255, 20},
	{250, 245, 0, 30},
	{255, 153, 0, 50},
	{255, 40, 0, 80},
	{180, 0, 104, 80}, // 80+ has no upper bound; report its lower bound
}

// DefaultColorTolerance is the per-channel slack for legend colour matching.
const DefaultColorTolerance = 2

// DefaultDivergence is the colour/step disagreement that gets flagged, in mm/h.
const DefaultDivergence = 10.0

// MatchColorClass returns the representative mm/h of the legend class within
// tol of (r, g, b) on every channel.
func MatchColorClass(r, g, b uint8, tol int) (float64, bool) {
	for _, c := range colorClasses {
		if absDiff(r, c.r) <= tol && absDiff(g, c.g) <= tol && absDiff(b, c.b) <= tol {
			return c.mmPerHour, true
		}
	}
	return 0, false
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// Provenance records which rule produced a value.
type Provenance string

const (
	ProvenanceNone     Provenance = "none"          // transparent or undecodable
	ProvenanceColor    Provenance = "color_table"   // legend colour match
	ProvenanceStep     Provenance = "step_fallback" // palette step table
	ProvenancePresence Provenance = "presence"      // true-colour presence signal
)

// Decoded is the conversion result for one pixel.
type Decoded struct {
	MMPerHour  float64
	Step       int
	Provenance Provenance

	// Advisory: the colour estimate and whether it disagrees with the step estimate.
	ColorMMPerHour float64
	ColorMatched   bool
	Diverged       bool
}

// IntensityDecoder converts pixel samples to mm/h.
//
// Order: transparent pixels are dry; palette tiles use the legend colour of
// the entry when it matches a class and the step table otherwise; true-colour
// tiles only signal presence. Divergence between colour and step estimates is
// flagged but never changes the value.
type IntensityDecoder struct {
	Scale          StepScale
	ColorTolerance int
	Divergence     float64
}

// NewIntensityDecoder returns a decoder with the default tolerances.
func NewIntensityDecoder(scale StepScale) IntensityDecoder {
	return IntensityDecoder{Scale: scale, ColorTolerance: DefaultColorTolerance, Divergence: DefaultDivergence}
}

// Decode converts one sample taken from a raster of the given kind.
func (d IntensityDecoder) Decode(kind RasterKind, s PixelSample) Decoded {
	if s.Transparent() {
		return Decoded{Provenance: ProvenanceNone}
	}

	colorMMH, matched := MatchColorClass(s.R, s.G, s.B, d.ColorTolerance)

	var out Decoded
	switch kind {
	case RasterPalette:
		step := int(s.Index)
		stepMMH := StepToMMPerHour(step, d.Scale)
		out = Decoded{MMPerHour: stepMMH, Step: step, Provenance: ProvenanceStep}
		if matched {
			out.MMPerHour = colorMMH
			out.Provenance = ProvenanceColor
		}
		out.Diverged = matched && step > 0 && math.Abs(colorMMH-stepMMH) >= d.Divergence
	default:
		out = Decoded{MMPerHour: StepToMMPerHour(1, d.Scale), Step: 1, Provenance: ProvenancePresence}
	}
	out.ColorMMPerHour = colorMMH
	out.ColorMatched = matched
	return out
}
