// Package domain models Japan Meteorological Agency (JMA) high-resolution
// precipitation nowcast tiles and the rain-alert logic built on top of them.
//
// # Data Source
//
// The JMA publishes the "hrpns" (high-resolution precipitation nowcast) product
// as 256x256 PNG map tiles at https://www.jma.go.jp/bosai/jmatile/data/nowc/.
// No API key is required. Two metadata files list the snapshots currently
// available:
//
//	targetTimes_N1.json  observed analyses (lead 0), one entry per issuance
//	targetTimes_N2.json  forecasts, one entry per (issuance, valid time) pair
//
// Each entry carries a basetime (issuance) and a validtime, both UTC in
// "YYYYMMDDhhmmss" form. Older revisions of the file are a bare array of
// basetime strings. Issuances arrive every 5 minutes; forecasts reach 60
// minutes ahead.
//
// # Tile Addressing
//
// Tiles use the Web-Mercator "slippy map" scheme. The service works at zoom
// 10, where one pixel is roughly 125 m at 35°N. A location maps to a tile
// (x, y) and to a pixel inside that tile; see [TileFor].
//
// # Pixel Encoding
//
// Two encodings are served depending on the tileset revision:
//
//	Palette tiles:    the palette index (0..65) is an intensity step.
//	                  Transparent entries (alpha 0) mean no precipitation.
//	True-colour tiles: RGBA pixels drawn with the JMA legend colours.
//
// The JMA legend classes (mm/h) and their colours:
//
//	  0–1   (242,242,255)     20–30  (250,245,0)
//	  1–5   (160,210,255)     30–50  (255,153,0)
//	  5–10  (33,140,255)      50–80  (255,40,0)
//	 10–20  (0,65,255)         80+   (180,0,104)
//
// A class reports its upper bound, so a pixel in the 5–10 class reads 10 mm/h.
// See [IntensityDecoder] for the conversion order.
//
// # Alerting
//
// Each location carries an ordered list of severities (by default heavy_rain
// at 30 mm/h and torrential_rain at 50 mm/h). [ThresholdEvaluator] turns
// successive readings into edge-triggered [AlertEvent] values: an event fires
// only when a severity goes from below to above its threshold.
package domain
