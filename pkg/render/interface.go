package render

import (
	"context"

	"github.com/yourusername/vegalite-server/pkg/model"
)

// Backend defines the interface for chart rendering backends
type Backend interface {
	// Save renders a Vega-Lite spec in the given format
	Save(ctx context.Context, spec map[string]any, format string, opts SaveOptions) (*Output, error)

	// Close cleans up resources used by the backend
	Close() error

	// Name returns the name of the backend
	Name() string
}

// NewBackend creates a browser-backed converter from the renderer configuration
func NewBackend(cfg model.RendererConfig) (Backend, error) {
	if err := model.ValidateWebdriver(cfg.Webdriver); err != nil {
		return nil, err
	}
	return NewConverter(Options{
		Webdriver:     cfg.Webdriver,
		DriverTimeout: cfg.DriverTimeout(),
		Offline:       cfg.Offline,
		ScriptsDir:    cfg.ScriptsDir,
		Versions:      cfg.Versions,
		BrowserPath:   cfg.BrowserPath,
	}), nil
}
