package render

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/jung-kurt/gofpdf"
)

// pngToPDF wraps a PNG in a single page sized to the image at 96 dpi.
// scale is the factor the PNG was rendered at, so the page keeps the chart's CSS size.
func pngToPDF(data []byte, scale int) ([]byte, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read png header: %w", err)
	}
	if scale < 1 {
		scale = 1
	}

	w := float64(cfg.Width) / float64(scale) * 72 / 96
	h := float64(cfg.Height) / float64(scale) * 72 / 96

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("vegalite-server", true)
	pdf.AddPage()

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("chart", opts, bytes.NewReader(data))
	pdf.ImageOptions("chart", 0, 0, w, h, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
