package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 0x4c, G: 0x78, B: 0xa8, A: 0xff})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func newTestConverter(t *testing.T, d *fakeDriver) *Converter {
	t.Helper()
	var built int32
	c := NewConverter(Options{Webdriver: "chrome"}, WithFactory("chrome", fakeFactory(d, &built)))
	t.Cleanup(func() { c.Close() })
	return c
}

func dataURLResult(t *testing.T, data []byte) string {
	t.Helper()
	res, err := json.Marshal(map[string]string{"result": pngDataURLPrefix + base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return string(res)
}

func TestConverterJSON(t *testing.T) {
	c := newTestConverter(t, newFakeDriver(`{}`))

	for _, format := range []string{"json", "vl.json"} {
		out, err := c.Save(context.Background(), barSpec, format, SaveOptions{})
		if err != nil {
			t.Fatalf("Save(%s): %v", format, err)
		}
		if out.ContentType != "application/json" {
			t.Errorf("ContentType = %s", out.ContentType)
		}
		var back map[string]any
		if err := json.Unmarshal(out.Data, &back); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if back["mark"] != "bar" {
			t.Errorf("unexpected output %s", out.Data)
		}
	}
}

func TestConverterJSONKeepsSpecText(t *testing.T) {
	c := newTestConverter(t, newFakeDriver(`{}`))
	spec := map[string]any{
		"id":    json.Number("9007199254740993"),
		"title": "a<b & c>d",
	}

	out, err := c.Save(context.Background(), spec, "json", SaveOptions{})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	text := string(out.Data)
	for _, want := range []string{`"id": 9007199254740993`, `"title": "a<b & c>d"`} {
		if !strings.Contains(text, want) {
			t.Errorf("output %s does not contain %s", text, want)
		}
	}
	if strings.HasSuffix(text, "\n") {
		t.Errorf("output has a trailing newline")
	}
}

func TestConverterHTML(t *testing.T) {
	c := newTestConverter(t, newFakeDriver(`{}`))

	out, err := c.Save(context.Background(), barSpec, "html", SaveOptions{})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	page := string(out.Data)
	if out.ContentType != "text/html" {
		t.Errorf("ContentType = %s", out.ContentType)
	}
	for _, want := range []string{"vegaEmbed(", "vega-embed@6.17.0", `"bar"`} {
		if !strings.Contains(page, want) {
			t.Errorf("html missing %q:\n%s", want, page)
		}
	}
	if strings.Contains(page, "WebFont") {
		t.Errorf("html loads a font when none was requested")
	}

	out, err = c.Save(context.Background(), barSpec, "html", SaveOptions{Font: "Lato"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.Contains(string(out.Data), "WebFont.load(") || !strings.Contains(string(out.Data), "Lato") {
		t.Errorf("html does not load the requested font:\n%s", out.Data)
	}
}

func TestConverterPNG(t *testing.T) {
	img := testPNG(t, 40, 20)
	d := newFakeDriver(dataURLResult(t, img))
	c := newTestConverter(t, d)
	if drivers := c.Drivers(); len(drivers) != 0 {
		t.Errorf("Drivers() before first render = %v", drivers)
	}

	out, err := c.Save(context.Background(), barSpec, "png", SaveOptions{Scale: 2})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !bytes.Equal(out.Data, img) {
		t.Errorf("png bytes differ from the extracted image")
	}
	if out.ContentType != "image/png" {
		t.Errorf("ContentType = %s", out.ContentType)
	}

	if drivers := c.Drivers(); len(drivers) != 1 || drivers[0] != "chrome" {
		t.Errorf("Drivers() after render = %v", drivers)
	}

	opt, ok := d.lastArgs[1].(map[string]any)
	if !ok || opt["scaleFactor"] != 2 {
		t.Errorf("scaleFactor not passed to the script: %v", d.lastArgs[1])
	}
}

func TestConverterPDF(t *testing.T) {
	d := newFakeDriver(dataURLResult(t, testPNG(t, 96, 48)))
	c := newTestConverter(t, d)

	out, err := c.Save(context.Background(), barSpec, "pdf", SaveOptions{Scale: 1})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !bytes.HasPrefix(out.Data, []byte("%PDF-")) {
		t.Errorf("output is not a PDF: %q", out.Data[:8])
	}
	if out.ContentType != "application/pdf" {
		t.Errorf("ContentType = %s", out.ContentType)
	}
}

func TestConverterSVG(t *testing.T) {
	d := newFakeDriver(`{"result":"<svg width=\"500\"></svg>"}`)
	c := newTestConverter(t, d)

	out, err := c.Save(context.Background(), barSpec, "svg", SaveOptions{})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if string(out.Data) != `<svg width="500"></svg>` {
		t.Errorf("svg = %s", out.Data)
	}
}

func TestConverterErrors(t *testing.T) {
	c := newTestConverter(t, newFakeDriver(`{"result":"not a data url"}`))

	if _, err := c.Save(context.Background(), barSpec, "gif", SaveOptions{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := c.Save(context.Background(), barSpec, "png", SaveOptions{}); err == nil {
		t.Errorf("expected error for a malformed png result")
	}
}

func TestPNGToPDFPageSize(t *testing.T) {
	pdf, err := pngToPDF(testPNG(t, 192, 96), 2)
	if err != nil {
		t.Fatalf("pngToPDF: %v", err)
	}
	// 192px at scale 2 is 96 CSS px, 72pt
	if !bytes.Contains(pdf, []byte("/MediaBox [0 0 72.00 36.00]")) {
		t.Errorf("unexpected page size")
	}
	if _, err := pngToPDF([]byte("not a png"), 1); err == nil {
		t.Errorf("expected error for invalid png")
	}
}
