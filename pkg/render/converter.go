package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/yourusername/vegalite-server/pkg/model"
)

// ErrUnsupportedFormat is returned by Save for formats outside the MIME table
var ErrUnsupportedFormat = errors.New("unsupported format")

const pngDataURLPrefix = "data:image/png;base64,"

// Options configures a Converter
type Options struct {
	Webdriver     string
	DriverTimeout time.Duration
	Offline       bool
	ScriptsDir    string
	Versions      map[string]string
	EmbedOptions  map[string]any
	BrowserPath   string
}

// SaveOptions are per-request rendering options
type SaveOptions struct {
	Scale int    // png/pdf scale factor
	Font  string // overrides the loaded font for one request
}

// Output is a rendered chart
type Output struct {
	Data        []byte
	ContentType string
}

// Converter turns Vega-Lite specs into every supported output format
type Converter struct {
	opts     Options
	registry *Registry
	pages    *pageServer
}

// NewConverter creates a converter. Browsers are started on first use.
func NewConverter(opts Options, regOpts ...RegistryOption) *Converter {
	if opts.Webdriver == "" {
		opts.Webdriver = "chrome"
	}
	if opts.BrowserPath != "" {
		regOpts = append([]RegistryOption{WithBrowserPath(opts.BrowserPath)}, regOpts...)
	}
	return &Converter{
		opts:     opts,
		registry: NewRegistry(regOpts...),
		pages:    newPageServer(),
	}
}

// Name returns the configured driver key
func (c *Converter) Name() string {
	return c.opts.Webdriver
}

// Drivers returns the keys of the browsers started so far
func (c *Converter) Drivers() []string {
	return c.registry.Keys()
}

func (c *Converter) version(pkg string) string {
	if v, ok := c.opts.Versions[pkg]; ok && v != "" {
		return v
	}
	return model.DefaultVersions[pkg]
}

func (c *Converter) saver(font string, scale int) *Saver {
	embed := make(map[string]any, len(c.opts.EmbedOptions)+1)
	for k, v := range c.opts.EmbedOptions {
		embed[k] = v
	}
	if scale > 0 {
		embed["scaleFactor"] = scale
	}
	return &Saver{
		Registry:      c.registry,
		Driver:        c.opts.Webdriver,
		DriverTimeout: c.opts.DriverTimeout,
		Offline:       c.opts.Offline,
		ScriptsDir:    c.opts.ScriptsDir,
		Versions:      c.opts.Versions,
		EmbedOptions:  embed,
		Mode:          "vega-lite",
		Font:          font,
		pages:         c.pages,
	}
}

// Save renders spec as format
func (c *Converter) Save(ctx context.Context, spec map[string]any, format string, opts SaveOptions) (*Output, error) {
	contentType, ok := model.ContentType(format)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	start := time.Now()
	data, err := c.save(ctx, spec, format, opts)
	if err != nil {
		log.Printf("[RENDER] ERROR: Failed to render %s: %v", format, err)
		return nil, err
	}
	log.Printf("[RENDER] Rendered %s (%d bytes) in %v", format, len(data), time.Since(start))

	return &Output{Data: data, ContentType: contentType}, nil
}

func (c *Converter) save(ctx context.Context, spec map[string]any, format string, opts SaveOptions) ([]byte, error) {
	switch format {
	case "json", "vl.json":
		return encodeSpec(spec)

	case "html":
		font := opts.Font
		if font == "" {
			font = ActiveFont()
		}
		return standaloneHTML(spec, c.opts.EmbedOptions, "vega-lite", font, c.version)

	case "svg":
		raw, err := c.saver(opts.Font, 0).Extract(ctx, spec, "svg")
		if err != nil {
			return nil, err
		}
		var svg string
		if err := json.Unmarshal(raw, &svg); err != nil {
			return nil, fmt.Errorf("unexpected svg result: %w", err)
		}
		return []byte(svg), nil

	case "png":
		return c.png(ctx, spec, opts)

	case "pdf":
		data, err := c.png(ctx, spec, opts)
		if err != nil {
			return nil, err
		}
		return pngToPDF(data, opts.Scale)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// encodeSpec writes spec as indented JSON without escaping <, > and &
func encodeSpec(spec map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(spec); err != nil {
		return nil, fmt.Errorf("failed to encode spec: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (c *Converter) png(ctx context.Context, spec map[string]any, opts SaveOptions) ([]byte, error) {
	scale := opts.Scale
	if scale < 1 {
		scale = 1
	}
	raw, err := c.saver(opts.Font, scale).Extract(ctx, spec, "png")
	if err != nil {
		return nil, err
	}
	var dataURL string
	if err := json.Unmarshal(raw, &dataURL); err != nil {
		return nil, fmt.Errorf("unexpected png result: %w", err)
	}
	return decodePNGDataURL(dataURL)
}

func decodePNGDataURL(dataURL string) ([]byte, error) {
	if !strings.HasPrefix(dataURL, pngDataURLPrefix) {
		return nil, fmt.Errorf("expected a png data url")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, pngDataURLPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png data url: %w", err)
	}
	return data, nil
}

// Close stops the page server and every browser
func (c *Converter) Close() error {
	return errors.Join(c.pages.close(), c.registry.Close())
}
