package domain

import (
	"fmt"
	"strings"
)

// Method is a spatial aggregation method.
type Method string

const (
	MethodSingle Method = "single"
	MethodMax2x2 Method = "max_2x2" // decision input
	MethodMax3x3 Method = "max_3x3"
	MethodMax4x4 Method = "max_4x4"
	MethodMax8x8 Method = "max_8x8" // advisory only
)

// AllMethods lists the methods from smallest to largest window.
var AllMethods = []Method{MethodSingle, MethodMax2x2, MethodMax3x3, MethodMax4x4, MethodMax8x8}

// DecisionMethod feeds the threshold evaluator.
const DecisionMethod = MethodMax2x2

// WindowSize returns the edge length of the method's window, or 0 if unknown.
func (m Method) WindowSize() int {
	switch m {
	case MethodSingle:
		return 1
	case MethodMax2x2:
		return 2
	case MethodMax3x3:
		return 3
	case MethodMax4x4:
		return 4
	case MethodMax8x8:
		return 8
	default:
		return 0
	}
}

// ParseMethod accepts a method name, case-insensitively.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if m.WindowSize() == 0 {
		return "", fmt.Errorf("unknown aggregation method %q", s)
	}
	return m, nil
}

// Window is an inclusive pixel rectangle inside a tile.
type Window struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Empty reports a window with no pixels left after clipping.
func (w Window) Empty() bool { return w.MaxX < w.MinX || w.MaxY < w.MinY }

// Pixels returns the number of pixels covered.
func (w Window) Pixels() int {
	if w.Empty() {
		return 0
	}
	return (w.MaxX - w.MinX + 1) * (w.MaxY - w.MinY + 1)
}

// WindowAt returns the n×n window around center clipped to a width×height raster.
// The origin sits at center-(n-1)/2, so even windows extend right and down and
// each size contains every smaller one.
func WindowAt(center PixelCoord, n, width, height int) Window {
	minX := center.X - (n-1)/2
	minY := center.Y - (n-1)/2
	w := Window{MinX: minX, MinY: minY, MaxX: minX + n - 1, MaxY: minY + n - 1}
	w.MinX = max(w.MinX, 0)
	w.MinY = max(w.MinY, 0)
	w.MaxX = min(w.MaxX, width-1)
	w.MaxY = min(w.MaxY, height-1)
	return w
}

// Aggregate is the result of one window evaluation.
type Aggregate struct {
	Method     Method
	Window     Window
	MMPerHour  float64
	Peak       Decoded // decoded value of the maximum pixel
	Diverged   bool    // any pixel in the window flagged colour/step divergence
	Considered int
}

// SpatialAggregator computes max-of-window intensities.
type SpatialAggregator struct {
	Decoder IntensityDecoder
}

// NewSpatialAggregator returns an aggregator using decoder for each pixel.
func NewSpatialAggregator(decoder IntensityDecoder) SpatialAggregator {
	return SpatialAggregator{Decoder: decoder}
}

// Aggregate returns the maximum decoded intensity in the method's window around center.
func (a SpatialAggregator) Aggregate(r *Raster, center PixelCoord, m Method) (Aggregate, error) {
	n := m.WindowSize()
	if n == 0 {
		return Aggregate{}, fmt.Errorf("unknown aggregation method %q", m)
	}
	return a.window(r, center, m, n), nil
}

// AggregateAll evaluates every method in AllMethods.
func (a SpatialAggregator) AggregateAll(r *Raster, center PixelCoord) map[Method]Aggregate {
	out := make(map[Method]Aggregate, len(AllMethods))
	for _, m := range AllMethods {
		out[m] = a.window(r, center, m, m.WindowSize())
	}
	return out
}

// window scans the n×n window; n must be positive.
func (a SpatialAggregator) window(r *Raster, center PixelCoord, m Method, n int) Aggregate {
	win := WindowAt(center, n, r.Width(), r.Height())
	out := Aggregate{Method: m, Window: win, Peak: Decoded{Provenance: ProvenanceNone}}
	if win.Empty() {
		return out
	}

	kind := r.Kind()
	for y := win.MinY; y <= win.MaxY; y++ {
		for x := win.MinX; x <= win.MaxX; x++ {
			d := a.Decoder.Decode(kind, r.Sample(x, y))
			out.Considered++
			if d.Diverged {
				out.Diverged = true
			}
			if d.MMPerHour > out.MMPerHour {
				out.MMPerHour = d.MMPerHour
				out.Peak = d
			}
		}
	}
	return out
}
