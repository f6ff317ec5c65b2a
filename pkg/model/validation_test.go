package model

import (
	"strings"
	"testing"
)

func TestValidateServerConfig(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(cfg *ServerConfig)
		expectError   bool
		errorContains string
	}{
		{
			name:        "defaults are valid",
			mutate:      func(cfg *ServerConfig) {},
			expectError: false,
		},
		{
			name: "firefox driver",
			mutate: func(cfg *ServerConfig) {
				cfg.Renderer.Webdriver = "firefox"
			},
			expectError: false,
		},
		{
			name: "unknown driver",
			mutate: func(cfg *ServerConfig) {
				cfg.Renderer.Webdriver = "safari"
			},
			expectError:   true,
			errorContains: "unrecognized webdriver 'safari'",
		},
		{
			name: "port out of range",
			mutate: func(cfg *ServerConfig) {
				cfg.Port = 70000
			},
			expectError:   true,
			errorContains: "invalid port",
		},
		{
			name: "zero driver timeout",
			mutate: func(cfg *ServerConfig) {
				cfg.Renderer.DriverTimeoutMS = 0
			},
			expectError:   true,
			errorContains: "driver timeout",
		},
		{
			name: "offline without scripts",
			mutate: func(cfg *ServerConfig) {
				cfg.Renderer.Offline = true
			},
			expectError:   true,
			errorContains: "scripts directory",
		},
		{
			name: "offline with scripts",
			mutate: func(cfg *ServerConfig) {
				cfg.Renderer.Offline = true
				cfg.Renderer.ScriptsDir = "/opt/vega"
			},
			expectError: false,
		},
		{
			name: "bad prune cron",
			mutate: func(cfg *ServerConfig) {
				cfg.Store.PruneCron = "every hour"
			},
			expectError:   true,
			errorContains: "invalid cron expression",
		},
		{
			name: "bad prune cron ignored when store disabled",
			mutate: func(cfg *ServerConfig) {
				cfg.Store.DBPath = ""
				cfg.Store.PruneCron = "every hour"
			},
			expectError: false,
		},
		{
			name: "negative retention",
			mutate: func(cfg *ServerConfig) {
				cfg.Store.RetentionHours = -1
			},
			expectError:   true,
			errorContains: "retention",
		},
		{
			name: "negative rate limit",
			mutate: func(cfg *ServerConfig) {
				cfg.Limits.RateLimit = -5
			},
			expectError:   true,
			errorContains: "rate limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			tt.mutate(&cfg)
			err := ValidateServerConfig(cfg)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				} else if tt.errorContains != "" && !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("error message '%s' does not contain '%s'", err.Error(), tt.errorContains)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestValidateCronExpression(t *testing.T) {
	tests := []struct {
		cronExpr string
		wantErr  string
	}{
		{"0 * * * *", ""},
		{"30 3 * * *", ""},
		{"*/10 * * * *", ""},
		{"", "cannot be empty"},
		{"* *", "invalid cron expression"},
		{"60 3 * * *", "invalid cron expression"},
	}

	for _, tt := range tests {
		t.Run(tt.cronExpr, func(t *testing.T) {
			err := ValidateCronExpression(tt.cronExpr)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateCronExpression(%q) = %v, want error containing %q", tt.cronExpr, err, tt.wantErr)
			}
		})
	}
}
