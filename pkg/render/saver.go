package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/yourusername/vegalite-server/pkg/model"
)

var (
	// ErrPageLoad is returned when the rendering page has no #vis element
	ErrPageLoad = errors.New("page load failed")

	// ErrOffline is returned when the browser reports no connectivity for a CDN render
	ErrOffline = errors.New("browser offline")
)

// JavascriptError is an error reported by the extraction script
type JavascriptError struct {
	Message string
}

func (e *JavascriptError) Error() string {
	return "javascript error: " + e.Message
}

var offlineScripts = []string{"vega.js", "vega-lite.js", "vega-embed.js"}

type pageURLs struct {
	VegaURL      string
	VegaLiteURL  string
	VegaEmbedURL string
	WebfontURL   string
}

// Saver renders a spec inside a browser page and extracts the result
type Saver struct {
	Registry      *Registry
	Driver        string
	DriverTimeout time.Duration
	Offline       bool
	ScriptsDir    string
	Versions      map[string]string
	EmbedOptions  map[string]any
	Mode          string
	Font          string

	pagesOnce sync.Once
	pages     *pageServer
}

// HTMLTemplate returns the page template, with the webfont loader when Font is set
func (s *Saver) HTMLTemplate() string {
	if s.Font != "" {
		return fontHTMLTemplate
	}
	html, _ := activeTemplates()
	return html
}

// ExtractCode returns the extraction script, loading Font first when set
func (s *Saver) ExtractCode() string {
	if s.Font != "" {
		return fontExtractCode(s.Font)
	}
	_, extract := activeTemplates()
	return extract
}

func (s *Saver) version(pkg string) string {
	if v, ok := s.Versions[pkg]; ok && v != "" {
		return v
	}
	return model.DefaultVersions[pkg]
}

func (s *Saver) page() (string, map[string][]byte, error) {
	urls := pageURLs{WebfontURL: WebfontURL}
	var scripts map[string][]byte

	if s.Offline {
		scripts = make(map[string][]byte, len(offlineScripts))
		for _, name := range offlineScripts {
			data, err := os.ReadFile(filepath.Join(s.ScriptsDir, name))
			if err != nil {
				return "", nil, fmt.Errorf("failed to read offline script %s: %w", name, err)
			}
			scripts[name] = data
		}
		urls.VegaURL, urls.VegaLiteURL, urls.VegaEmbedURL = "vega.js", "vega-lite.js", "vega-embed.js"
	} else {
		urls.VegaURL = fmt.Sprintf(CDNURL, "vega", s.version("vega"))
		urls.VegaLiteURL = fmt.Sprintf(CDNURL, "vega-lite", s.version("vega-lite"))
		urls.VegaEmbedURL = fmt.Sprintf(CDNURL, "vega-embed", s.version("vega-embed"))
	}

	tmpl, err := template.New("page").Parse(s.HTMLTemplate())
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse page template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, urls); err != nil {
		return "", nil, fmt.Errorf("failed to render page template: %w", err)
	}
	return buf.String(), scripts, nil
}

// Extract renders spec in the cached driver and returns the value the script reports.
// format is one of png, svg or vega.
func (s *Saver) Extract(ctx context.Context, spec any, format string) (json.RawMessage, error) {
	s.pagesOnce.Do(func() {
		if s.pages == nil {
			s.pages = newPageServer()
		}
	})

	handle, err := s.Registry.Get(ctx, s.Driver, s.DriverTimeout)
	if err != nil {
		return nil, err
	}

	html, scripts, err := s.page()
	if err != nil {
		return nil, err
	}
	url, release, err := s.pages.serve(html, scripts)
	if err != nil {
		return nil, err
	}
	defer release()

	opt := make(map[string]any, len(s.EmbedOptions)+1)
	for k, v := range s.EmbedOptions {
		opt[k] = v
	}
	mode := s.Mode
	if mode == "" {
		mode = "vega-lite"
	}
	opt["mode"] = mode

	var raw json.RawMessage
	err = handle.Use(func(d Driver) error {
		if err := d.Navigate(ctx, "about:blank"); err != nil {
			return err
		}
		if err := d.Navigate(ctx, url); err != nil {
			return err
		}

		found, err := d.HasElement(ctx, "vis")
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: could not load %s", ErrPageLoad, url)
		}

		if !s.Offline {
			online, err := d.Online(ctx)
			if err != nil {
				return err
			}
			if !online {
				return fmt.Errorf("%w: Internet connection required for saving chart as %s with offline=False", ErrOffline, format)
			}
		}

		start := time.Now()
		raw, err = d.ExecuteAsync(ctx, s.ExtractCode(), spec, opt, format)
		if err != nil {
			return err
		}
		log.Printf("[RENDER] DEBUG: Extracted %s via %s in %v", format, d.Name(), time.Since(start))
		return nil
	})
	if err != nil {
		return nil, err
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unexpected extraction result: %w", err)
	}
	if msg, ok := result["error"]; ok {
		var text string
		if err := json.Unmarshal(msg, &text); err != nil {
			text = strings.TrimSpace(string(msg))
		}
		return nil, &JavascriptError{Message: text}
	}
	return result["result"], nil
}

// Close stops the page server
func (s *Saver) Close() error {
	s.pagesOnce.Do(func() {})
	if s.pages == nil {
		return nil
	}
	return s.pages.close()
}
