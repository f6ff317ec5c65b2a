// Package app wires configuration, renderer, store and pruner into one handler
// shared by the standalone server and the plugin binary.
package app

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/vegalite-server/pkg/api"
	"github.com/yourusername/vegalite-server/pkg/cron"
	"github.com/yourusername/vegalite-server/pkg/model"
	"github.com/yourusername/vegalite-server/pkg/render"
	"github.com/yourusername/vegalite-server/pkg/store"
)

// App owns every long-lived component of the service
type App struct {
	Config    model.ServerConfig
	Handler   *api.Handler
	renderer  render.Backend
	store     *store.Store
	scheduler *cron.Scheduler
}

// New builds the application from a validated configuration
func New(cfg model.ServerConfig) (*App, error) {
	render.LoadFont(cfg.Renderer.Font)

	renderer, err := render.NewBackend(cfg.Renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	a := &App{Config: cfg, renderer: renderer}

	var conversions api.ConversionStore
	if cfg.Store.DBPath != "" {
		st, err := store.NewStore(cfg.Store.DBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.store = st
		conversions = st

		retention := time.Duration(cfg.Store.RetentionHours) * time.Hour
		a.scheduler = cron.NewScheduler(st, cfg.Store.PruneCron, retention)
		if err := a.scheduler.Start(); err != nil {
			a.scheduler = nil
			a.Close()
			return nil, fmt.Errorf("failed to start pruner: %w", err)
		}
	} else {
		log.Println("[APP] Conversion log disabled")
	}

	h, err := api.NewHandler(cfg, renderer, conversions)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.scheduler != nil {
		h.SetPruner(a.scheduler)
	}
	a.Handler = h

	return a, nil
}

// Close stops the pruner and releases the store and browsers
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.renderer != nil {
		errs = append(errs, a.renderer.Close())
	}
	return errors.Join(errs...)
}
