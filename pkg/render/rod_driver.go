package render

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// RodDriver drives Chrome/Chromium through go-rod
type RodDriver struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	opts     DriverOptions
}

// NewRodDriver launches a headless Chrome and opens the page used for rendering
func NewRodDriver(opts DriverOptions) (Driver, error) {
	l := launcher.New()

	chromePath := opts.BrowserPath
	if chromePath == "" {
		chromePath = findChromeBinary()
	}
	if chromePath != "" {
		l = l.Bin(chromePath)
		log.Printf("[RENDER] Using Chrome binary: %s", chromePath)
	} else {
		log.Printf("[RENDER] WARNING: No Chrome binary found. Attempting to use system default or auto-download.")
	}

	for _, arg := range opts.Args {
		name, value := splitFlag(arg)
		if name == "" {
			continue
		}
		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}
	l = l.Headless(true)

	launchURL, err := l.Launch()
	if err != nil {
		if chromePath == "" {
			return nil, fmt.Errorf("failed to launch chrome: %w (set CHROME_BIN or install chromium)", err)
		}
		return nil, fmt.Errorf("failed to launch chrome at '%s': %w", chromePath, err)
	}
	log.Printf("[RENDER] DEBUG: Chrome launched, debug URL: %s", launchURL)

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &RodDriver{launcher: l, browser: browser, page: page, opts: opts}, nil
}

// Name returns the driver key
func (d *RodDriver) Name() string {
	return "chrome"
}

// Navigate loads url within the page-load timeout
func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx)
	if d.opts.Timeout > 0 {
		p = p.Timeout(d.opts.Timeout)
		defer p.CancelTimeout()
	}

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

// HasElement reports whether an element with id exists
func (d *RodDriver) HasElement(ctx context.Context, id string) (bool, error) {
	res, err := d.page.Context(ctx).Eval(`(id) => document.getElementById(id) !== null`, id)
	if err != nil {
		return false, fmt.Errorf("failed to look up element %s: %w", strconv.Quote(id), err)
	}
	return res.Value.Bool(), nil
}

// Online reports navigator.onLine
func (d *RodDriver) Online(ctx context.Context) (bool, error) {
	res, err := d.page.Context(ctx).Eval(`() => navigator.onLine`)
	if err != nil {
		return false, fmt.Errorf("failed to read navigator.onLine: %w", err)
	}
	return res.Value.Bool(), nil
}

// ExecuteAsync runs an async script and waits for its done callback
func (d *RodDriver) ExecuteAsync(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	argsJSON, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	res, err := d.page.Context(ctx).Eval(asyncFunction(script), argsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to execute script: %w", err)
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script result: %w", err)
	}
	return raw, nil
}

// Close closes the browser and removes its profile directory
func (d *RodDriver) Close() error {
	log.Printf("[RENDER] Closing Chrome browser")
	err := d.browser.Close()
	d.launcher.Cleanup()
	return err
}
