package render

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Driver is one live browser-automation session
type Driver interface {
	// Name returns the driver type key
	Name() string

	// Navigate loads url and waits for the page load event
	Navigate(ctx context.Context, url string) error

	// HasElement reports whether an element with the given id exists
	HasElement(ctx context.Context, id string) (bool, error)

	// Online reports navigator.onLine
	Online(ctx context.Context) (bool, error)

	// ExecuteAsync runs script with arguments[0..n-1] set to args and arguments[n] set to a
	// done callback, and returns the JSON value passed to done.
	ExecuteAsync(ctx context.Context, script string, args ...any) (json.RawMessage, error)

	// Close ends the browser session
	Close() error
}

// DriverOptions configures a new driver
type DriverOptions struct {
	Timeout     time.Duration // page-load timeout
	Args        []string      // browser command line flags
	BrowserPath string        // browser binary, auto-detected if empty
}

// DriverFactory starts a driver
type DriverFactory func(opts DriverOptions) (Driver, error)

// LaunchArgs are passed to every browser the registry starts
var LaunchArgs = []string{
	"--no-sandbox",            // Required for running as root or in Docker
	"--headless",              // No display on servers
	"--disable-dev-shm-usage", // Use /tmp instead of /dev/shm (prevents crashes in Docker)
}

// asyncFunction wraps a Selenium-style async script into a JS function taking the JSON
// text of its argument array and returning a Promise that resolves with the value
// passed to done. Arguments cross into the page as JSON so every driver sees the
// same numbers and strings.
func asyncFunction(script string) string {
	return "function(argsJSON) {\n" +
		"  var args = JSON.parse(argsJSON);\n" +
		"  return new Promise(function(done) {\n" +
		"    (function() {\n" + script + "\n    }).apply(null, args.concat([done]));\n" +
		"  });\n" +
		"}"
}

// encodeArgs returns the JSON text handed to an asyncFunction wrapper
func encodeArgs(args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode script arguments: %w", err)
	}
	return string(data), nil
}

// splitFlag turns "--name=value" into ("name", "value")
func splitFlag(arg string) (string, string) {
	arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
	name, value, _ := strings.Cut(arg, "=")
	return name, value
}

// findChromeBinary tries to locate Chrome binary in common locations
func findChromeBinary() string {
	if path := os.Getenv("CHROME_BIN"); path != "" {
		return path
	}

	candidatePaths := []string{
		// System Chrome installations
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",

		// macOS
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	}

	for _, path := range candidatePaths {
		if info, err := os.Stat(path); err == nil && info.Mode()&0111 != 0 {
			return path
		}
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	return ""
}
