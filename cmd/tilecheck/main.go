// Command tilecheck inspects a nowcast tile: its encoding, transparency,
// intensity histogram and, optionally, the aggregated reading at a coordinate.
//
// Usage:
//
//	go run ./cmd/tilecheck -file tile.png
//	go run ./cmd/tilecheck -url https://.../10/907/405.png -lat 35.1265 -lon 138.9111
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
)

const userAgent = "rain-nowcast-monitor/tilecheck"

func main() {
	file := flag.String("file", "", "path to a PNG tile")
	url := flag.String("url", "", "URL of a PNG tile")
	lat := flag.Float64("lat", math.NaN(), "latitude to read (optional)")
	lon := flag.Float64("lon", math.NaN(), "longitude to read (optional)")
	zoom := flag.Int("zoom", domain.DefaultZoom, "zoom level of the tile")
	scale := flag.String("scale", "banded", "step scale: banded or linear")
	flag.Parse()

	if (*file == "") == (*url == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -file or -url is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(os.Stdout, *file, *url, *lat, *lon, *zoom, *scale); err != nil {
		fmt.Fprintln(os.Stderr, "tilecheck:", err)
		os.Exit(1)
	}
}

func run(out io.Writer, file, url string, lat, lon float64, zoom int, scaleName string) error {
	scale, err := domain.ParseStepScale(scaleName)
	if err != nil {
		return err
	}

	data, err := load(file, url)
	if err != nil {
		return err
	}
	raster, err := domain.DecodeRaster(data)
	if err != nil {
		return err
	}

	decoder := domain.NewIntensityDecoder(scale)
	s := summarize(raster, decoder)
	s.print(out)

	if math.IsNaN(lat) || math.IsNaN(lon) {
		return nil
	}
	coord, pixel := domain.TileFor(lat, lon, zoom)
	fmt.Fprintf(out, "\npoint %.6f,%.6f -> tile z%d/%d/%d pixel (%d,%d), %.1f m/px\n",
		lat, lon, coord.Zoom, coord.X, coord.Y, pixel.X, pixel.Y, domain.MetersPerPixel(lat, zoom))
	aggs := domain.NewSpatialAggregator(decoder).AggregateAll(raster, pixel)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "method\tmm/h\tprovenance\tpixels")
	for _, m := range domain.AllMethods {
		a := aggs[m]
		fmt.Fprintf(tw, "%s\t%.1f\t%s\t%d\n", m, a.MMPerHour, a.Peak.Provenance, a.Considered)
	}
	return tw.Flush()
}

func load(file, url string) ([]byte, error) {
	if file != "" {
		return os.ReadFile(file)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// summary describes a whole tile.
type summary struct {
	kind        domain.RasterKind
	width       int
	height      int
	transparent int
	partial     int
	opaque      int
	buckets     map[int]int     // palette step -> pixels
	values      map[float64]int // mm/h -> pixels
	diverged    int
	scale       domain.StepScale
}

func summarize(r *domain.Raster, d domain.IntensityDecoder) summary {
	s := summary{
		kind:    r.Kind(),
		width:   r.Width(),
		height:  r.Height(),
		buckets: make(map[int]int),
		values:  make(map[float64]int),
		scale:   d.Scale,
	}
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			px := r.Sample(x, y)
			switch px.A {
			case 0:
				s.transparent++
			case 255:
				s.opaque++
			default:
				s.partial++
			}
			if px.Paletted {
				s.buckets[int(px.Index)]++
			}
			dec := d.Decode(s.kind, px)
			if dec.MMPerHour > 0 {
				s.values[dec.MMPerHour]++
			}
			if dec.Diverged {
				s.diverged++
			}
		}
	}
	return s
}

func (s summary) print(out io.Writer) {
	total := s.width * s.height
	fmt.Fprintf(out, "kind: %s\nsize: %dx%d\n", s.kind, s.width, s.height)
	fmt.Fprintf(out, "alpha: transparent=%d partial=%d opaque=%d (%.1f%% wet)\n",
		s.transparent, s.partial, s.opaque, 100*float64(total-s.transparent)/float64(max(total, 1)))
	if s.diverged > 0 {
		fmt.Fprintf(out, "colour/step divergence: %d pixels\n", s.diverged)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if len(s.buckets) > 0 {
		fmt.Fprintln(out, "\nstep histogram:")
		fmt.Fprintln(tw, "step\tpixels\tmm/h")
		for _, step := range sortedKeys(s.buckets) {
			fmt.Fprintf(tw, "%d\t%d\t%.1f\n", step, s.buckets[step], domain.StepToMMPerHour(step, s.scale))
		}
		tw.Flush() //nolint:errcheck // stdout
	}
	if len(s.values) > 0 {
		fmt.Fprintln(out, "\ndecoded intensity:")
		fmt.Fprintln(tw, "mm/h\tpixels")
		for _, v := range sortedKeys(s.values) {
			fmt.Fprintf(tw, "%.1f\t%d\n", v, s.values[v])
		}
		tw.Flush() //nolint:errcheck // stdout
	}
}

func sortedKeys[K int | float64](m map[K]int) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
