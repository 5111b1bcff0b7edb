package domain

import (
	"context"
	"math"
)

// TileSize is the edge length of a map tile in pixels.
const TileSize = 256

// DefaultZoom is the zoom level the monitor reads tiles at.
const DefaultZoom = 10

// TileCoord addresses a slippy-map tile.
type TileCoord struct {
	Zoom int `json:"zoom"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

// PixelCoord is a pixel position inside a tile.
type PixelCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Tile is a fetched raster payload. It lives for one cycle.
type Tile struct {
	Coord     TileCoord
	Slot      TimeSlot
	Data      []byte
	SourceURL string
}

// TileSource fetches the raster for a slot and tile coordinate.
type TileSource interface {
	FetchTile(ctx context.Context, slot TimeSlot, coord TileCoord) (Tile, error)
}

// TileFor maps a WGS-84 coordinate to its Web-Mercator tile and the pixel
// inside that tile at the given zoom.
func TileFor(lat, lon float64, zoom int) (TileCoord, PixelCoord) {
	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180
	xf := (lon + 180.0) / 360.0 * n
	yf := (1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n

	tx, ty := math.Floor(xf), math.Floor(yf)
	px := clampPixel(int((xf - tx) * TileSize))
	py := clampPixel(int((yf - ty) * TileSize))
	return TileCoord{Zoom: zoom, X: int(tx), Y: int(ty)}, PixelCoord{X: px, Y: py}
}

// MetersPerPixel is the ground resolution at a latitude and zoom.
func MetersPerPixel(lat float64, zoom int) float64 {
	return 156543.03392 * math.Cos(lat*math.Pi/180) / math.Exp2(float64(zoom))
}

func clampPixel(v int) int {
	if v < 0 {
		return 0
	}
	if v >= TileSize {
		return TileSize - 1
	}
	return v
}
