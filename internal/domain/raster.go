package domain

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
)

// RasterKind tags how a tile encodes intensity.
type RasterKind int

const (
	RasterPalette   RasterKind = iota + 1 // palette index is the intensity step
	RasterTrueColor                       // RGBA legend colours only
)

func (k RasterKind) String() string {
	switch k {
	case RasterPalette:
		return "palette"
	case RasterTrueColor:
		return "truecolor"
	default:
		return "unknown"
	}
}

// PixelSample is one decoded pixel. Index is meaningful only when Paletted.
type PixelSample struct {
	Index    uint8
	R, G, B  uint8
	A        uint8
	Paletted bool
}

// Transparent reports a fully transparent pixel, which always means no precipitation.
func (p PixelSample) Transparent() bool { return p.A == 0 }

// Raster is a decoded tile. The kind is fixed at decode time so per-pixel
// decoding dispatches on the tag instead of inspecting the image type.
type Raster struct {
	kind     RasterKind
	bounds   image.Rectangle
	paletted *image.Paletted
	img      image.Image
}

// DecodeRaster decodes a PNG tile payload.
func DecodeRaster(data []byte) (*Raster, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty payload")}
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	r := NewRaster(img)
	if r.Width() == 0 || r.Height() == 0 {
		return nil, &DecodeError{Err: errors.New("empty image")}
	}
	return r, nil
}

// NewRaster wraps an already decoded image.
func NewRaster(img image.Image) *Raster {
	r := &Raster{bounds: img.Bounds(), img: img}
	if p, ok := img.(*image.Paletted); ok {
		r.kind = RasterPalette
		r.paletted = p
	} else {
		r.kind = RasterTrueColor
	}
	return r
}

func (r *Raster) Kind() RasterKind { return r.kind }

func (r *Raster) Width() int { return r.bounds.Dx() }

func (r *Raster) Height() int { return r.bounds.Dy() }

// Image returns the underlying image, e.g. for debug overlays.
func (r *Raster) Image() image.Image { return r.img }

// Sample returns the pixel at (x, y) relative to the raster origin.
// Out-of-range positions read as transparent.
func (r *Raster) Sample(x, y int) PixelSample {
	if x < 0 || y < 0 || x >= r.Width() || y >= r.Height() {
		return PixelSample{Paletted: r.kind == RasterPalette}
	}
	ax, ay := r.bounds.Min.X+x, r.bounds.Min.Y+y

	switch r.kind {
	case RasterPalette:
		idx := r.paletted.ColorIndexAt(ax, ay)
		var c color.NRGBA
		if int(idx) < len(r.paletted.Palette) {
			c = color.NRGBAModel.Convert(r.paletted.Palette[idx]).(color.NRGBA)
		}
		return PixelSample{Index: idx, R: c.R, G: c.G, B: c.B, A: c.A, Paletted: true}
	default:
		c := color.NRGBAModel.Convert(r.img.At(ax, ay)).(color.NRGBA)
		return PixelSample{R: c.R, G: c.G, B: c.B, A: c.A}
	}
}
