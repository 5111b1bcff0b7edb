package debugimg

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWriter(t *testing.T, limits Limits) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewWriter(dir, limits, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return w, dir
}

func TestOverlay(t *testing.T) {
	src := image.NewPaletted(image.Rect(0, 0, 16, 16), color.Palette{color.NRGBA{}, color.NRGBA{R: 10, G: 10, B: 10, A: 255}})
	win := domain.Window{MinX: 4, MinY: 4, MaxX: 7, MaxY: 7}

	out := Overlay(src, win, domain.PixelCoord{X: 10, Y: 10})

	assert.Equal(t, windowColor, out.RGBAAt(4, 4))
	assert.Equal(t, windowColor, out.RGBAAt(7, 5))
	assert.Equal(t, color.RGBA{}, out.RGBAAt(5, 5), "window interior untouched")
	assert.Equal(t, centerColor, out.RGBAAt(10, 10))
	assert.Equal(t, centerColor, out.RGBAAt(13, 10))
	assert.Equal(t, centerColor, out.RGBAAt(10, 7))
}

func TestWriter_Write(t *testing.T) {
	w, dir := testWriter(t, Limits{})
	base := time.Date(2025, 7, 1, 3, 10, 0, 0, time.UTC)
	raster := domain.NewRaster(image.NewRGBA(image.Rect(0, 0, domain.TileSize, domain.TileSize)))

	path, err := w.Write(domain.DebugArtifact{
		Location: "Mishima Station",
		Slot:     domain.TimeSlot{BaseTime: base, ValidTime: base.Add(30 * time.Minute), LeadMinutes: 30},
		Coord:    domain.TileCoord{Zoom: 10, X: 907, Y: 405},
		Center:   domain.PixelCoord{X: 31, Y: 42},
		Window:   domain.Window{MinX: 31, MinY: 42, MaxX: 32, MaxY: 43},
		Raster:   raster,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Mishima_Station_20250701031000_20250701034000_z10_907_405.png"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, domain.TileSize, img.Bounds().Dx())
}

func writeFile(t *testing.T, dir, name string, size int, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, de := range des {
		names = append(names, de.Name())
	}
	return names
}

func TestWriter_Prune(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	t.Run("retention", func(t *testing.T) {
		w, dir := testWriter(t, Limits{Retention: time.Hour})
		w.clock = clockwork.NewFakeClockAt(now)
		writeFile(t, dir, "old.png", 10, now.Add(-2*time.Hour))
		writeFile(t, dir, "new.png", 10, now.Add(-time.Minute))
		writeFile(t, dir, "notes.txt", 10, now.Add(-48*time.Hour))

		removed, err := w.Prune()
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.ElementsMatch(t, []string{"new.png", "notes.txt"}, remaining(t, dir))
	})

	t.Run("max files keeps newest", func(t *testing.T) {
		w, dir := testWriter(t, Limits{MaxFiles: 2})
		w.clock = clockwork.NewFakeClockAt(now)
		writeFile(t, dir, "a.png", 10, now.Add(-3*time.Minute))
		writeFile(t, dir, "b.png", 10, now.Add(-2*time.Minute))
		writeFile(t, dir, "c.png", 10, now.Add(-1*time.Minute))

		removed, err := w.Prune()
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.ElementsMatch(t, []string{"b.png", "c.png"}, remaining(t, dir))
	})

	t.Run("total size", func(t *testing.T) {
		w, dir := testWriter(t, Limits{MaxTotalMB: 1})
		w.clock = clockwork.NewFakeClockAt(now)
		writeFile(t, dir, "a.png", 600*1024, now.Add(-2*time.Minute))
		writeFile(t, dir, "b.png", 600*1024, now.Add(-1*time.Minute))

		removed, err := w.Prune()
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Equal(t, []string{"b.png"}, remaining(t, dir))
	})
}
