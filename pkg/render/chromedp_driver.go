package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromedpDriver drives a headless Chromium over the DevTools protocol
type ChromedpDriver struct {
	opts DriverOptions

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedpDriver starts Chromium and opens the tab used for rendering
func NewChromedpDriver(opts DriverOptions) (Driver, error) {
	options := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	browserPath := opts.BrowserPath
	if browserPath == "" {
		browserPath = findChromeBinary()
	}
	if browserPath != "" {
		options = append(options, chromedp.ExecPath(browserPath))
		log.Printf("[RENDER] Using Chromium binary: %s", browserPath)
	}
	options = append(options, allocatorOptionsFromArgs(opts.Args)...)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), options...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chromium: %w", err)
	}

	return &ChromedpDriver{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Name returns the driver key
func (d *ChromedpDriver) Name() string {
	return "chromium"
}

// run executes actions on the browser tab, cancelled with ctx
func (d *ChromedpDriver) run(ctx context.Context, withTimeout bool, actions ...chromedp.Action) error {
	execCtx, cancel := context.WithCancel(d.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if withTimeout && d.opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		execCtx, cancelTimeout = context.WithTimeout(execCtx, d.opts.Timeout)
		defer cancelTimeout()
	}

	if err := chromedp.Run(execCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Navigate loads url within the page-load timeout
func (d *ChromedpDriver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, true, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// HasElement reports whether an element with id exists
func (d *ChromedpDriver) HasElement(ctx context.Context, id string) (bool, error) {
	idJSON, err := json.Marshal(id)
	if err != nil {
		return false, err
	}
	var found bool
	expr := fmt.Sprintf("document.getElementById(%s) !== null", idJSON)
	if err := d.run(ctx, false, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("failed to look up element %s: %w", id, err)
	}
	return found, nil
}

// Online reports navigator.onLine
func (d *ChromedpDriver) Online(ctx context.Context) (bool, error) {
	var online bool
	if err := d.run(ctx, false, chromedp.Evaluate("navigator.onLine", &online)); err != nil {
		return false, fmt.Errorf("failed to read navigator.onLine: %w", err)
	}
	return online, nil
}

// ExecuteAsync runs an async script and waits for its done callback
func (d *ChromedpDriver) ExecuteAsync(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	argsJSON, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	// a JSON string is a valid JS string literal
	literal, err := json.Marshal(argsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script arguments: %w", err)
	}

	expr := "(" + asyncFunction(script) + ")(" + string(literal) + ")"
	var raw []byte
	err = d.run(ctx, false, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		if errors.Is(err, chromedp.ErrJSUndefined) || errors.Is(err, chromedp.ErrJSNull) {
			return json.RawMessage("null"), nil
		}
		return nil, fmt.Errorf("failed to execute script: %w", err)
	}
	return json.RawMessage(raw), nil
}

// Close shuts the browser down
func (d *ChromedpDriver) Close() error {
	log.Printf("[RENDER] Closing Chromium browser")
	if d.browserCancel != nil {
		d.browserCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}

func allocatorOptionsFromArgs(args []string) []chromedp.ExecAllocatorOption {
	options := make([]chromedp.ExecAllocatorOption, 0, len(args))
	for _, arg := range args {
		name, value := splitFlag(arg)
		if name == "" {
			continue
		}
		if value != "" {
			options = append(options, chromedp.Flag(name, value))
			continue
		}
		options = append(options, chromedp.Flag(strings.ToLower(name), true))
	}
	return options
}
