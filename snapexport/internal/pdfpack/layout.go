// CLAUDE:SUMMARY Single-page fit geometry (width ratio then height ratio, centered, top margin) and pdfcpu document writer.
// Package pdfpack places a captured bitmap on a single document page.
//
// Oversized captures are scaled down to fit the printable area of one
// page, never split across pages.
package pdfpack

import (
	"errors"
	"fmt"
	"math"
)

// ErrGeometry is returned when the page constants or bitmap size leave no
// valid placement.
var ErrGeometry = errors.New("pdfpack: invalid geometry")

// Page holds the fixed page constants, in millimetres.
type Page struct {
	Width       float64 `json:"width" yaml:"width"`
	Height      float64 `json:"height" yaml:"height"`
	Margin      float64 `json:"margin" yaml:"margin"`
	PixelToUnit float64 `json:"pixel_to_unit" yaml:"pixel_to_unit"`
}

// A4 is portrait A4 with a 10 mm margin and 96 dpi pixels.
var A4 = Page{Width: 210, Height: 297, Margin: 10, PixelToUnit: 0.264583}

// Layout is the placement of the image on the page, in millimetres from
// the top-left corner.
type Layout struct {
	PageWidth  float64 `json:"page_width"`
	PageHeight float64 `json:"page_height"`
	Margin     float64 `json:"margin"`
	Scale      float64 `json:"scale"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`

	// HeightBound is true when the second, height-driven ratio applied.
	HeightBound bool `json:"height_bound"`
}

// AvailableWidth is the printable width of the page.
func (p Page) AvailableWidth() float64 { return p.Width - 2*p.Margin }

// AvailableHeight is the printable height of the page.
func (p Page) AvailableHeight() float64 { return p.Height - 2*p.Margin }

func (p Page) validate() error {
	switch {
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("%w: page %gx%g", ErrGeometry, p.Width, p.Height)
	case p.Margin < 0:
		return fmt.Errorf("%w: negative margin %g", ErrGeometry, p.Margin)
	case p.AvailableWidth() <= 0 || p.AvailableHeight() <= 0:
		return fmt.Errorf("%w: margin %g leaves no printable area", ErrGeometry, p.Margin)
	case p.PixelToUnit <= 0:
		return fmt.Errorf("%w: pixel to unit factor %g", ErrGeometry, p.PixelToUnit)
	}
	return nil
}

// Fit computes the placement of a pixelWidth x pixelHeight bitmap.
//
// The width is fitted first; if the scaled height still overflows, a
// stricter ratio bounded by the printable height is applied on top. The
// image is centered horizontally, one margin below the top edge.
func Fit(pixelWidth, pixelHeight int, p Page) (Layout, error) {
	if err := p.validate(); err != nil {
		return Layout{}, err
	}
	if pixelWidth <= 0 || pixelHeight <= 0 {
		return Layout{}, fmt.Errorf("%w: bitmap %dx%d", ErrGeometry, pixelWidth, pixelHeight)
	}

	rawW := float64(pixelWidth) * p.PixelToUnit
	rawH := float64(pixelHeight) * p.PixelToUnit

	availW := p.AvailableWidth()
	ratio := 1.0
	if rawW > availW {
		ratio = availW / rawW
	}
	w, h := rawW*ratio, rawH*ratio

	l := Layout{PageWidth: p.Width, PageHeight: p.Height, Margin: p.Margin}
	if h+2*p.Margin > p.Height {
		hr := p.AvailableHeight() / h
		ratio *= hr
		w, h = w*hr, h*hr
		l.HeightBound = true
	}

	l.Scale = ratio
	l.Width = w
	l.Height = h
	l.X = (p.Width - w) / 2
	l.Y = p.Margin

	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 0 || ratio > 1 {
		return Layout{}, fmt.Errorf("%w: scale %g", ErrGeometry, ratio)
	}
	return l, nil
}
