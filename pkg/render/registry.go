package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUnrecognizedDriver is returned by Registry.Get for an unknown driver key
var ErrUnrecognizedDriver = errors.New("unrecognized webdriver")

var errRegistryClosed = errors.New("driver registry is closed")

// Handle is a cached driver session. Use serialises access to the underlying page.
type Handle struct {
	Key string

	mu     sync.Mutex
	driver Driver
}

// Use runs fn with exclusive access to the driver
func (h *Handle) Use(fn func(Driver) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.driver)
}

// Registry holds one driver per key for the life of the process
type Registry struct {
	mu          sync.Mutex
	factories   map[string]DriverFactory
	drivers     map[string]*Handle
	exitHooks   []func() error
	group       singleflight.Group
	browserPath string
	closed      bool
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithFactory registers or replaces the factory for a driver key
func WithFactory(key string, factory DriverFactory) RegistryOption {
	return func(r *Registry) {
		r.factories[key] = factory
	}
}

// WithBrowserPath sets the browser binary passed to every factory
func WithBrowserPath(path string) RegistryOption {
	return func(r *Registry) {
		r.browserPath = path
	}
}

// NewRegistry creates a registry with the chrome, firefox and chromium drivers
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories: map[string]DriverFactory{
			"chrome":   NewRodDriver,
			"firefox":  NewPlaywrightDriver,
			"chromium": NewChromedpDriver,
		},
		drivers: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the cached driver for key, starting it on first use.
// Concurrent first calls for the same key start a single driver.
func (r *Registry) Get(ctx context.Context, key string, timeout time.Duration) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.drivers[key]; ok {
		r.mu.Unlock()
		return h, nil
	}
	factory, ok := r.factories[key]
	closed := r.closed
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: Unrecognized webdriver: '%s'. Expected 'chrome' or 'firefox'", ErrUnrecognizedDriver, key)
	}
	if closed {
		return nil, errRegistryClosed
	}

	ch := r.group.DoChan(key, func() (any, error) {
		r.mu.Lock()
		if h, ok := r.drivers[key]; ok {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		log.Printf("[REGISTRY] Starting %s driver (page load timeout %s)", key, timeout)
		start := time.Now()
		args := make([]string, len(LaunchArgs))
		copy(args, LaunchArgs)
		driver, err := factory(DriverOptions{
			Timeout:     timeout,
			Args:        args,
			BrowserPath: r.browserPath,
		})
		if err != nil {
			log.Printf("[REGISTRY] ERROR: Failed to start %s driver: %v", key, err)
			return nil, fmt.Errorf("failed to start %s driver: %w", key, err)
		}
		log.Printf("[REGISTRY] DEBUG: %s driver ready in %v", key, time.Since(start))

		h := &Handle{Key: key, driver: driver}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			log.Printf("[REGISTRY] WARNING: Registry closed while %s driver was starting, closing it", key)
			if err := driver.Close(); err != nil {
				log.Printf("[REGISTRY] ERROR: Failed to close %s driver: %v", key, err)
			}
			return nil, errRegistryClosed
		}
		r.drivers[key] = h
		r.exitHooks = append(r.exitHooks, driver.Close)
		r.mu.Unlock()
		return h, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

// Keys returns the keys of the drivers started so far
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.drivers))
	for k := range r.drivers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close runs every exit hook once and empties the cache
func (r *Registry) Close() error {
	r.mu.Lock()
	hooks := r.exitHooks
	r.exitHooks = nil
	r.drivers = make(map[string]*Handle)
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for _, hook := range hooks {
		if err := hook(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(hooks) > 0 {
		log.Printf("[REGISTRY] Closed %d driver(s)", len(hooks))
	}
	return errors.Join(errs...)
}
