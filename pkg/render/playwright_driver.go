package render

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver drives Firefox through Playwright
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	opts    DriverOptions
}

// NewPlaywrightDriver starts Playwright and launches a headless Firefox
func NewPlaywrightDriver(opts DriverOptions) (Driver, error) {
	// Writable cache directories for containers with a read-only home
	for env, fallback := range map[string]string{
		"PLAYWRIGHT_BROWSERS_PATH": "/tmp/.playwright-cache",
		"PLAYWRIGHT_DRIVER_PATH":   "/tmp/.playwright-driver",
	} {
		dir := os.Getenv(env)
		if dir == "" {
			dir = fallback
			os.Setenv(env, dir)
			log.Printf("[RENDER] DEBUG: Set %s to: %s", env, dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("[RENDER] WARNING: Failed to create %s: %v", dir, err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start Playwright: %w", err)
	}

	// Playwright controls headless mode itself
	args := make([]string, 0, len(opts.Args))
	for _, arg := range opts.Args {
		if name, _ := splitFlag(arg); name == "headless" {
			continue
		}
		args = append(args, arg)
	}

	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     args,
	}
	if opts.BrowserPath != "" {
		launchOptions.ExecutablePath = playwright.String(opts.BrowserPath)
		log.Printf("[RENDER] Using Firefox binary: %s", opts.BrowserPath)
	}

	log.Printf("[RENDER] DEBUG: Launching Firefox with Playwright...")
	browser, err := pw.Firefox.Launch(launchOptions)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch Firefox: %w", err)
	}

	page, err := browser.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if opts.Timeout > 0 {
		page.SetDefaultNavigationTimeout(float64(opts.Timeout.Milliseconds()))
	}

	return &PlaywrightDriver{pw: pw, browser: browser, page: page, opts: opts}, nil
}

// Name returns the driver key
func (d *PlaywrightDriver) Name() string {
	return "firefox"
}

// Navigate loads url and waits for the load event
func (d *PlaywrightDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// HasElement reports whether an element with id exists
func (d *PlaywrightDriver) HasElement(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	count, err := d.page.Locator("#" + id).Count()
	if err != nil {
		return false, fmt.Errorf("failed to look up element %s: %w", id, err)
	}
	return count > 0, nil
}

// Online reports navigator.onLine
func (d *PlaywrightDriver) Online(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v, err := d.page.Evaluate(`() => navigator.onLine`)
	if err != nil {
		return false, fmt.Errorf("failed to read navigator.onLine: %w", err)
	}
	online, _ := v.(bool)
	return online, nil
}

// ExecuteAsync runs an async script and waits for its done callback
func (d *PlaywrightDriver) ExecuteAsync(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	argsJSON, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	type result struct {
		value any
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := d.page.Evaluate(asyncFunction(script), argsJSON)
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to execute script: %w", r.err)
		}
		raw, err := json.Marshal(r.value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode script result: %w", err)
		}
		return raw, nil
	}
}

// Close closes the browser and stops Playwright
func (d *PlaywrightDriver) Close() error {
	log.Printf("[RENDER] Closing Firefox browser")
	var firstErr error
	if err := d.browser.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close browser: %w", err)
	}
	if err := d.pw.Stop(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to stop Playwright: %w", err)
	}
	return firstErr
}
