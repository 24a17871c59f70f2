// CLAUDE:SUMMARY Bitmap type, rasterizer contract, PNG encoding and exact-size resampling of captures.
// Package raster defines the rasterizer contract and the bitmap it yields.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
)

// ErrEmpty is returned for bitmaps without pixels.
var ErrEmpty = errors.New("raster: empty bitmap")

// Rasterizer turns a prepared element into a flat bitmap of exactly
// width x height pixels. It must treat an off-screen element like an
// on-screen one and wait for layout and paint before capturing.
type Rasterizer interface {
	Rasterize(ctx context.Context, h dom.Handle, width, height int) (*Bitmap, error)
}

// Func adapts a function to Rasterizer.
type Func func(ctx context.Context, h dom.Handle, width, height int) (*Bitmap, error)

func (f Func) Rasterize(ctx context.Context, h dom.Handle, width, height int) (*Bitmap, error) {
	return f(ctx, h, width, height)
}

// Bitmap is a captured RGBA image.
type Bitmap struct {
	Width  int
	Height int
	Pix    *image.RGBA
}

// New wraps img, converting to RGBA when needed.
func New(img image.Image) (*Bitmap, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmpty
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Bitmap{Width: b.Dx(), Height: b.Dy(), Pix: rgba}, nil
}

// Blank returns a bitmap filled with opaque white.
func Blank(width, height int) *Bitmap {
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), image.White, image.Point{}, draw.Src)
	return &Bitmap{Width: width, Height: height, Pix: rgba}
}

// Decode reads a PNG capture.
func Decode(r io.Reader) (*Bitmap, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("raster: decode: %w", err)
	}
	return New(img)
}

// Resample scales b to exactly width x height. The browser rounds device
// pixels on its own, so captures can be off by one.
func (b *Bitmap) Resample(width, height int) *Bitmap {
	if b.Width == width && b.Height == height {
		return b
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), b.Pix, b.Pix.Bounds(), draw.Src, nil)
	return &Bitmap{Width: width, Height: height, Pix: dst}
}

// EncodePNG writes b as an RGBA PNG.
func (b *Bitmap) EncodePNG(w io.Writer) error {
	if b == nil || b.Pix == nil {
		return ErrEmpty
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, b.Pix); err != nil {
		return fmt.Errorf("raster: encode: %w", err)
	}
	return nil
}

// PNG returns the encoded bitmap.
func (b *Bitmap) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
