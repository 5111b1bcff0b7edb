package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTileFor(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		tile     TileCoord
		pixel    PixelCoord
	}{
		{"mishima", 35.126474871810345, 138.91109391000256, TileCoord{Zoom: 10, X: 907, Y: 405}, PixelCoord{X: 31, Y: 42}},
		{"tokyo", 35.6812, 139.7671, TileCoord{Zoom: 10, X: 909, Y: 403}, PixelCoord{X: 143, Y: 58}},
		{"origin", 0, 0, TileCoord{Zoom: 10, X: 512, Y: 512}, PixelCoord{X: 0, Y: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile, pixel := TileFor(tt.lat, tt.lon, DefaultZoom)
			assert.Equal(t, tt.tile, tile)
			assert.Equal(t, tt.pixel, pixel)
		})
	}
}

func TestTileFor_PixelInRange(t *testing.T) {
	for lat := -80.0; lat <= 80; lat += 7.3 {
		for lon := -179.9; lon <= 179.9; lon += 11.1 {
			_, p := TileFor(lat, lon, DefaultZoom)
			assert.GreaterOrEqual(t, p.X, 0)
			assert.Less(t, p.X, TileSize)
			assert.GreaterOrEqual(t, p.Y, 0)
			assert.Less(t, p.Y, TileSize)
		}
	}
}

func TestMetersPerPixel(t *testing.T) {
	assert.InDelta(t, 125.03, MetersPerPixel(35.126474871810345, 10), 0.01)
	assert.InDelta(t, 152.87, MetersPerPixel(0, 10), 0.01)
	assert.Greater(t, MetersPerPixel(35, 9), MetersPerPixel(35, 10))
}
