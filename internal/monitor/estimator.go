package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
)

// DebugSink receives one artifact per processed tile.
type DebugSink interface {
	Write(a domain.DebugArtifact) (string, error)
}

// Estimate is the outcome of reading one (location, slot) pair.
type Estimate struct {
	Tile     domain.TileCoord
	Pixel    domain.PixelCoord
	Readings map[domain.Method]domain.IntensityReading
}

// Decision returns the reading that feeds the threshold evaluator.
func (e Estimate) Decision() domain.IntensityReading {
	return e.Readings[domain.DecisionMethod]
}

// Estimator fetches, decodes and aggregates the tile covering a location.
type Estimator struct {
	tiles      domain.TileSource
	aggregator domain.SpatialAggregator
	zoom       int
	debug      DebugSink
	logger     *slog.Logger
}

// NewEstimator creates an estimator. debug may be nil.
func NewEstimator(tiles domain.TileSource, aggregator domain.SpatialAggregator, zoom int, debug DebugSink, logger *slog.Logger) *Estimator {
	return &Estimator{
		tiles:      tiles,
		aggregator: aggregator,
		zoom:       zoom,
		debug:      debug,
		logger:     logger,
	}
}

// Estimate reads every aggregation method for loc at slot.
//
// A fetch failure returns the error with no readings. A decode failure returns
// zero readings together with a *domain.DecodeError so the caller can still
// evaluate them.
func (e *Estimator) Estimate(ctx context.Context, loc domain.Location, slot domain.TimeSlot) (Estimate, error) {
	coord, pixel := domain.TileFor(loc.Lat, loc.Lon, e.zoom)
	est := Estimate{Tile: coord, Pixel: pixel}

	tile, err := e.tiles.FetchTile(ctx, slot, coord)
	if err != nil {
		return est, err
	}

	raster, err := domain.DecodeRaster(tile.Data)
	if err != nil {
		est.Readings = make(map[domain.Method]domain.IntensityReading, len(domain.AllMethods))
		for _, m := range domain.AllMethods {
			est.Readings[m] = domain.ZeroReading(loc, slot, m)
		}
		var decErr *domain.DecodeError
		if !errors.As(err, &decErr) {
			err = &domain.DecodeError{Err: err}
		}
		return est, fmt.Errorf("%s from %s: %w", loc.Name, tile.SourceURL, err)
	}

	aggs := e.aggregator.AggregateAll(raster, pixel)
	est.Readings = make(map[domain.Method]domain.IntensityReading, len(aggs))
	for m, agg := range aggs {
		est.Readings[m] = domain.NewIntensityReading(loc, slot, raster.Kind(), coord, pixel, agg)
	}

	if e.debug != nil {
		artifact := domain.DebugArtifact{
			Location: loc.Name,
			Slot:     slot,
			Coord:    coord,
			Center:   pixel,
			Window:   aggs[domain.DecisionMethod].Window,
			Raster:   raster,
		}
		if path, err := e.debug.Write(artifact); err != nil {
			e.logger.Warn("debug overlay failed", "location", loc.Name, "error", err)
		} else {
			e.logger.Debug("debug overlay written", "location", loc.Name, "path", path)
		}
	}
	return est, nil
}
