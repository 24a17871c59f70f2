package pdfpack

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/snapexport/snapexport/internal/raster"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestFit_WideCapture(t *testing.T) {
	// 1600x1200 px on A4: width-bound, no height rescale.
	l, err := Fit(1600, 1200, A4)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !near(l.Scale, 0.449, 0.001) {
		t.Errorf("Scale: got %.4f, want ~0.449", l.Scale)
	}
	if !near(l.Width, 190, 1e-9) {
		t.Errorf("Width: got %.4f, want 190", l.Width)
	}
	if !near(l.Height, 142.5, 0.2) {
		t.Errorf("Height: got %.3f, want ~142.5", l.Height)
	}
	if l.HeightBound {
		t.Error("height-bound rescale should not trigger")
	}
	if !near(l.X, 10, 1e-9) || l.Y != 10 {
		t.Errorf("origin: got (%.3f, %.3f), want (10, 10)", l.X, l.Y)
	}
}

func TestFit_TallCapture(t *testing.T) {
	l, err := Fit(800, 4000, A4)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !l.HeightBound {
		t.Fatal("tall capture should trigger the height-bound rescale")
	}
	if !near(l.Height, A4.AvailableHeight(), 1e-9) {
		t.Errorf("Height: got %.4f, want %.4f", l.Height, A4.AvailableHeight())
	}
	if l.Width > A4.AvailableWidth() {
		t.Errorf("Width %.3f exceeds printable width", l.Width)
	}
	if !near(l.X, (A4.Width-l.Width)/2, 1e-9) {
		t.Errorf("image not centered: X=%.3f width=%.3f", l.X, l.Width)
	}
	// Aspect ratio preserved.
	if !near(l.Width/l.Height, 800.0/4000.0, 1e-9) {
		t.Errorf("aspect: got %.6f, want 0.2", l.Width/l.Height)
	}
}

func TestFit_SmallCaptureNotUpscaled(t *testing.T) {
	l, err := Fit(400, 300, A4)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if l.Scale != 1 {
		t.Errorf("Scale: got %v, want 1", l.Scale)
	}
	if !near(l.Width, 400*A4.PixelToUnit, 1e-9) {
		t.Errorf("Width: got %.4f", l.Width)
	}
}

func TestFit_Bounds(t *testing.T) {
	sizes := [][2]int{{1, 1}, {1600, 1200}, {720, 720}, {10000, 50}, {50, 10000}, {3000, 4243}}
	for _, s := range sizes {
		l, err := Fit(s[0], s[1], A4)
		if err != nil {
			t.Fatalf("Fit(%v): %v", s, err)
		}
		if l.Scale <= 0 || l.Scale > 1 {
			t.Errorf("Fit(%v): scale %v outside (0, 1]", s, l.Scale)
		}
		if l.Width > A4.AvailableWidth()+1e-9 || l.Height > A4.AvailableHeight()+1e-9 {
			t.Errorf("Fit(%v): %gx%g exceeds printable area", s, l.Width, l.Height)
		}
	}
}

func TestFit_InvalidGeometry(t *testing.T) {
	cases := []struct {
		name string
		w, h int
		page Page
	}{
		{"zero bitmap", 0, 100, A4},
		{"margin too wide", 100, 100, Page{Width: 210, Height: 297, Margin: 105, PixelToUnit: 0.26}},
		{"no factor", 100, 100, Page{Width: 210, Height: 297, Margin: 10}},
		{"negative margin", 100, 100, Page{Width: 210, Height: 297, Margin: -1, PixelToUnit: 0.26}},
	}
	for _, c := range cases {
		if _, err := Fit(c.w, c.h, c.page); !errors.Is(err, ErrGeometry) {
			t.Errorf("%s: got %v, want ErrGeometry", c.name, err)
		}
	}
}

func TestWriter_SinglePage(t *testing.T) {
	bmp := raster.Blank(320, 200)
	data, err := bmp.PNG()
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	l, err := Fit(bmp.Width, bmp.Height, A4)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	var out bytes.Buffer
	if err := NewWriter(nil).Write(&out, data, bmp.Width, l); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("%PDF-")) {
		t.Fatalf("output is not a PDF: %q", out.Bytes()[:min(8, out.Len())])
	}

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(out.Bytes()), model.NewDefaultConfiguration())
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if ctx.PageCount != 1 {
		t.Errorf("PageCount: got %d, want 1", ctx.PageCount)
	}
}

func TestWriter_RejectsEmptyLayout(t *testing.T) {
	var out bytes.Buffer
	if err := NewWriter(nil).Write(&out, nil, 0, Layout{}); !errors.Is(err, ErrGeometry) {
		t.Fatalf("Write: got %v, want ErrGeometry", err)
	}
	if out.Len() != 0 {
		t.Error("nothing should be written on failure")
	}
}
