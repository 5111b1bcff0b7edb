package jma

import (
	"fmt"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
)

// tilePattern builds one candidate URL for a tile.
type tilePattern struct {
	name  string
	build func(base string, slot domain.TimeSlot, c domain.TileCoord) string
}

// tilePatterns are tried in order; the first one that serves a PNG wins.
var tilePatterns = []tilePattern{
	{
		name: "hrpns_none",
		build: func(base string, s domain.TimeSlot, c domain.TileCoord) string {
			return fmt.Sprintf("%s/%s/none/%s/surf/hrpns/%d/%d/%d.png", base, s.BaseStamp(), s.ValidStamp(), c.Zoom, c.X, c.Y)
		},
	},
	{
		name: "hrpns",
		build: func(base string, s domain.TimeSlot, c domain.TileCoord) string {
			return fmt.Sprintf("%s/%s/%s/surf/hrpns/%d/%d/%d.png", base, s.BaseStamp(), s.ValidStamp(), c.Zoom, c.X, c.Y)
		},
	},
	{
		name: "rasrf_none",
		build: func(base string, s domain.TimeSlot, c domain.TileCoord) string {
			return fmt.Sprintf("%s/%s/none/%s/surf/rasrf/%d/%d/%d.png", base, s.BaseStamp(), s.ValidStamp(), c.Zoom, c.X, c.Y)
		},
	},
}

// TileURLs lists the candidate URLs for a tile in the order FetchTile tries them.
func TileURLs(baseURL string, slot domain.TimeSlot, coord domain.TileCoord) []string {
	out := make([]string, len(tilePatterns))
	for i, p := range tilePatterns {
		out[i] = p.build(baseURL, slot, coord)
	}
	return out
}
