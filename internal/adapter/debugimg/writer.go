// Package debugimg writes annotated copies of processed tiles to disk so an
// operator can see which pixels fed a reading.
package debugimg

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/jonboulle/clockwork"
)

const fileExt = ".png"

var (
	windowColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	centerColor = color.RGBA{R: 255, G: 0, B: 255, A: 255}
)

// Writer saves overlay PNGs and keeps the directory within its limits.
type Writer struct {
	dir       string
	retention time.Duration
	maxFiles  int
	maxBytes  int64
	clock     clockwork.Clock
	logger    *slog.Logger
}

// Limits bounds the overlay directory. Zero values disable the respective check.
type Limits struct {
	Retention  time.Duration
	MaxFiles   int
	MaxTotalMB int
}

func NewWriter(dir string, limits Limits, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}
	return &Writer{
		dir:       dir,
		retention: limits.Retention,
		maxFiles:  limits.MaxFiles,
		maxBytes:  int64(limits.MaxTotalMB) * 1024 * 1024,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
	}, nil
}

// Write renders the artifact and saves it. The returned path is absolute
// within the configured directory.
func (w *Writer) Write(a domain.DebugArtifact) (string, error) {
	img := Overlay(a.Raster.Image(), a.Window, a.Center)

	name := fmt.Sprintf("%s_%s_%s_z%d_%d_%d%s",
		sanitize(a.Location), a.Slot.BaseStamp(), a.Slot.ValidStamp(),
		a.Coord.Zoom, a.Coord.X, a.Coord.Y, fileExt)
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create overlay: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("encode overlay: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close overlay: %w", err)
	}
	return path, nil
}

// Overlay copies src and draws the window outline and a cross on the centre pixel.
func Overlay(src image.Image, win domain.Window, center domain.PixelCoord) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	if !win.Empty() {
		for x := win.MinX; x <= win.MaxX; x++ {
			dst.Set(x, win.MinY, windowColor)
			dst.Set(x, win.MaxY, windowColor)
		}
		for y := win.MinY; y <= win.MaxY; y++ {
			dst.Set(win.MinX, y, windowColor)
			dst.Set(win.MaxX, y, windowColor)
		}
	}

	for d := -3; d <= 3; d++ {
		dst.Set(center.X+d, center.Y, centerColor)
		dst.Set(center.X, center.Y+d, centerColor)
	}
	return dst
}

type entry struct {
	path    string
	size    int64
	modTime time.Time
}

// Prune removes overlays older than the retention, then the oldest ones until
// the count and total size limits hold. It returns the number of files removed.
func (w *Writer) Prune() (int, error) {
	des, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("read debug dir: %w", err)
	}

	var files []entry
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), fileExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, entry{path: filepath.Join(w.dir, de.Name()), size: info.Size(), modTime: info.ModTime()})
	}
	// newest first
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	now := w.clock.Now()
	var total int64
	removed := 0
	for i, f := range files {
		expired := w.retention > 0 && now.Sub(f.modTime) > w.retention
		overCount := w.maxFiles > 0 && i >= w.maxFiles
		overSize := w.maxBytes > 0 && total+f.size > w.maxBytes
		if expired || overCount || overSize {
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				w.logger.Warn("remove debug overlay", "path", f.path, "error", err)
				continue
			}
			removed++
			continue
		}
		total += f.size
	}
	return removed, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
