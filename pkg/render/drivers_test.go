package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"
)

func chromeBinaryPath(t *testing.T) string {
	t.Helper()

	chromePath := findChromeBinary()
	if chromePath == "" {
		t.Skip("chromium binary not found; set CHROME_BIN to run this test")
	}
	return chromePath
}

func firefoxBinaryPath(t *testing.T) string {
	t.Helper()

	if path := os.Getenv("FIREFOX_BIN"); path != "" {
		return path
	}
	if path, err := exec.LookPath("firefox"); err == nil {
		return path
	}
	t.Skip("firefox binary not found; set FIREFOX_BIN to run this test")
	return ""
}

func testDriverOptions(browserPath string) DriverOptions {
	args := make([]string, len(LaunchArgs))
	copy(args, LaunchArgs)
	return DriverOptions{Timeout: 10 * time.Second, Args: args, BrowserPath: browserPath}
}

// exerciseDriver runs the calls Saver.Extract makes against a live browser
func exerciseDriver(t *testing.T, d Driver) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<!DOCTYPE html><html><body><div id="vis"></div></body></html>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Navigate(ctx, "about:blank"); err != nil {
		t.Fatalf("Navigate(about:blank): %v", err)
	}
	if err := d.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	found, err := d.HasElement(ctx, "vis")
	if err != nil || !found {
		t.Errorf("HasElement(vis) = %v, %v", found, err)
	}
	found, err = d.HasElement(ctx, "missing")
	if err != nil || found {
		t.Errorf("HasElement(missing) = %v, %v", found, err)
	}

	if _, err := d.Online(ctx); err != nil {
		t.Errorf("Online: %v", err)
	}

	tests := []struct {
		name   string
		script string
		args   []any
		want   string
	}{
		{"sync done", "done({result: arguments[0] + 1})", []any{41}, `{"result":42}`},
		{"deferred done", "var n = arguments[0]; setTimeout(function() { done(n * 2); }, 50)", []any{21}, `42`},
		{"all arguments", "done([arguments[0].mark, arguments[1].mode, arguments[2]])",
			[]any{map[string]any{"mark": "a<b"}, map[string]any{"mode": "vega-lite"}, "svg"}, `["a<b","vega-lite","svg"]`},
		{"no arguments", "done(typeof arguments[0])", nil, `"function"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := d.ExecuteAsync(ctx, tt.script, tt.args...)
			if err != nil {
				t.Fatalf("ExecuteAsync: %v", err)
			}

			var got, want any
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("result %s is not JSON: %v", raw, err)
			}
			json.Unmarshal([]byte(tt.want), &want)
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("ExecuteAsync() = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestRodDriver(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping chrome driver test in short mode")
	}

	d, err := NewRodDriver(testDriverOptions(chromeBinaryPath(t)))
	if err != nil {
		t.Fatalf("NewRodDriver: %v", err)
	}
	defer d.Close()

	if d.Name() != "chrome" {
		t.Errorf("Name() = %s", d.Name())
	}
	exerciseDriver(t, d)
}

func TestChromedpDriver(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping chromium driver test in short mode")
	}

	d, err := NewChromedpDriver(testDriverOptions(chromeBinaryPath(t)))
	if err != nil {
		t.Fatalf("NewChromedpDriver: %v", err)
	}
	defer d.Close()

	if d.Name() != "chromium" {
		t.Errorf("Name() = %s", d.Name())
	}
	exerciseDriver(t, d)
}

func TestPlaywrightDriver(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping firefox driver test in short mode")
	}

	d, err := NewPlaywrightDriver(testDriverOptions(firefoxBinaryPath(t)))
	if err != nil {
		t.Skipf("playwright unavailable: %v", err)
	}
	defer d.Close()

	if d.Name() != "firefox" {
		t.Errorf("Name() = %s", d.Name())
	}
	exerciseDriver(t, d)
}
