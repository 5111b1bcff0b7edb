package domain

// IntensityReading is the estimated intensity for one location, slot and method.
type IntensityReading struct {
	Location   string     `json:"location"`
	Slot       TimeSlot   `json:"slot"`
	Method     Method     `json:"method"`
	MMPerHour  float64    `json:"mm_per_hour"`
	Provenance Provenance `json:"provenance"`
	Step       int        `json:"step"`
	Diverged   bool       `json:"diverged,omitempty"`
	RasterKind string     `json:"raster_kind"`
	Tile       TileCoord  `json:"tile"`
	Pixel      PixelCoord `json:"pixel"`
	Window     Window     `json:"window"`
}

// NewIntensityReading builds a reading from an aggregate.
func NewIntensityReading(loc Location, slot TimeSlot, kind RasterKind, tile TileCoord, pixel PixelCoord, agg Aggregate) IntensityReading {
	return IntensityReading{
		Location:   loc.Name,
		Slot:       slot,
		Method:     agg.Method,
		MMPerHour:  agg.MMPerHour,
		Provenance: agg.Peak.Provenance,
		Step:       agg.Peak.Step,
		Diverged:   agg.Diverged,
		RasterKind: kind.String(),
		Tile:       tile,
		Pixel:      pixel,
		Window:     agg.Window,
	}
}

// ZeroReading is the reading used when a tile cannot be decoded.
func ZeroReading(loc Location, slot TimeSlot, m Method) IntensityReading {
	return IntensityReading{Location: loc.Name, Slot: slot, Method: m, Provenance: ProvenanceNone}
}

// DebugArtifact describes one processed tile for external visualisation.
type DebugArtifact struct {
	Location string
	Slot     TimeSlot
	Coord    TileCoord
	Center   PixelCoord
	Window   Window
	Raster   *Raster
}
