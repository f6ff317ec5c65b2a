package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var allEnv = []string{
	EnvConfigFile, EnvAllowPlain, EnvSecretKey, EnvProduction, EnvPort, EnvFont,
	EnvWebdriver, EnvDriverTimeout, EnvOffline, EnvScriptsDir, EnvBrowserPath,
	EnvDBPath, EnvRetentionHours, EnvPruneCron, EnvCache, EnvRateLimit, EnvTrustProxy,
}

// clearEnv unsets every variable Load reads, restoring them after the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allEnv {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5000 || !cfg.Production || !cfg.AllowPlainSpec || cfg.TrustProxy {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Renderer.Webdriver != "chrome" || cfg.Renderer.DriverTimeoutMS != 30000 {
		t.Errorf("unexpected renderer defaults %+v", cfg.Renderer)
	}
	if cfg.Store.DBPath != "vegalite-server.db" || cfg.Store.RetentionHours != 24 || cfg.Store.PruneCron != "0 * * * *" {
		t.Errorf("unexpected store defaults %+v", cfg.Store)
	}
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAllowPlain, "False")
	t.Setenv(EnvSecretKey, "cw_0x689RpI-jtRR7oE8h_eQsKImvJapLeSbXpwF4e4=")
	t.Setenv(EnvProduction, "TRUE")
	t.Setenv(EnvPort, "8080")
	t.Setenv(EnvFont, "Lato")
	t.Setenv(EnvWebdriver, "firefox")
	t.Setenv(EnvDBPath, "")
	t.Setenv(EnvTrustProxy, "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AllowPlainSpec {
		t.Errorf("AllowPlainSpec should be false")
	}
	if !cfg.Production {
		t.Errorf("Production should be true")
	}
	if cfg.Port != 8080 || cfg.Renderer.Font != "Lato" || cfg.Renderer.Webdriver != "firefox" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.TrustProxy {
		t.Errorf("TrustProxy should be true")
	}
	if cfg.Store.DBPath != "" {
		t.Errorf("empty DB path should disable the store, got %q", cfg.Store.DBPath)
	}
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHART_FONT", "Roboto")
	path := writeConfig(t, `
port: 7000
renderer:
  webdriver: chromium
  font: ${CHART_FONT}
store:
  retention_hours: 48
`)
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvPort, "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// env beats file
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	// file beats defaults
	if cfg.Renderer.Webdriver != "chromium" || cfg.Store.RetentionHours != 48 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Renderer.Font != "Roboto" {
		t.Errorf("env expansion in file not applied, font = %q", cfg.Renderer.Font)
	}
	// defaults survive where neither is set
	if cfg.Renderer.DriverTimeoutMS != 30000 || cfg.Store.PruneCron != "0 * * * *" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    string
		wantErr string
	}{
		{
			name:    "non-integer port",
			env:     map[string]string{EnvPort: "http"},
			wantErr: "PORT must be an integer",
		},
		{
			name:    "unknown webdriver",
			env:     map[string]string{EnvWebdriver: "safari"},
			wantErr: "unrecognized webdriver",
		},
		{
			name:    "unknown yaml key",
			file:    "colour: blue\n",
			wantErr: "failed to read config file",
		},
		{
			name:    "bad prune cron",
			env:     map[string]string{EnvPruneCron: "every hour"},
			wantErr: "invalid cron expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.file != "" {
				t.Setenv(EnvConfigFile, writeConfig(t, tt.file))
			}

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCreateLimiter(t *testing.T) {
	if CreateLimiter(0) != nil {
		t.Errorf("zero limit should disable limiting")
	}
	l := CreateLimiter(5)
	if l == nil || l.Burst() != 5 {
		t.Errorf("unexpected limiter %v", l)
	}
}
