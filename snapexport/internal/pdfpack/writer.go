package pdfpack

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// pointsPerMM converts millimetres to PDF user space units.
const pointsPerMM = 72 / 25.4

// Writer emits single-page documents.
type Writer struct {
	conf   *model.Configuration
	logger *slog.Logger
}

// NewWriter creates a Writer with pdfcpu's default configuration.
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{conf: model.NewDefaultConfiguration(), logger: logger}
}

// Write places the PNG image pngData (pixelWidth wide) on one page
// according to l and writes the document to w. The output is read back and
// validated before it is written.
func (wr *Writer) Write(w io.Writer, pngData []byte, pixelWidth int, l Layout) error {
	if pixelWidth <= 0 || l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("%w: nothing to place", ErrGeometry)
	}

	imp := pdfcpu.DefaultImportConfig()
	imp.PageDim = &types.Dim{Width: l.PageWidth * pointsPerMM, Height: l.PageHeight * pointsPerMM}
	imp.PageSize = ""
	imp.UserDim = true
	imp.Pos = types.TopLeft
	imp.Dx = l.X * pointsPerMM
	imp.Dy = -l.Y * pointsPerMM
	imp.ScaleAbs = true
	imp.Scale = l.Width * pointsPerMM / float64(pixelWidth)
	imp.InpUnit = types.POINTS
	imp.DPI = 0

	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, []io.Reader{bytes.NewReader(pngData)}, imp, wr.conf); err != nil {
		return fmt.Errorf("pdfpack: import image: %w", err)
	}

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(buf.Bytes()), wr.conf)
	if err != nil {
		return fmt.Errorf("pdfpack: validate: %w", err)
	}
	if ctx.PageCount != 1 {
		return fmt.Errorf("pdfpack: got %d pages, want 1", ctx.PageCount)
	}

	wr.logger.Debug("pdfpack: document ready",
		"bytes", buf.Len(), "scale", l.Scale, "width_mm", l.Width, "height_mm", l.Height)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("pdfpack: write: %w", err)
	}
	return nil
}
