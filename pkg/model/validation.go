package model

import (
	"fmt"
	"strings"

	"github.com/gorhill/cronexpr"
)

// KnownWebdrivers lists the driver keys the renderer can start
var KnownWebdrivers = []string{"chrome", "firefox", "chromium"}

// ValidateCronExpression validates a cron expression format.
// Returns an error if the expression cannot be parsed.
func ValidateCronExpression(cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}

	_, err := cronexpr.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression '%s': %v", cronExpr, err)
	}

	return nil
}

// ValidateServerConfig checks a configuration before the server starts
func ValidateServerConfig(cfg ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}

	if err := ValidateWebdriver(cfg.Renderer.Webdriver); err != nil {
		return err
	}

	if cfg.Renderer.DriverTimeoutMS <= 0 {
		return fmt.Errorf("driver timeout must be positive, got %dms", cfg.Renderer.DriverTimeoutMS)
	}

	if cfg.Renderer.Offline && cfg.Renderer.ScriptsDir == "" {
		return fmt.Errorf("offline mode requires a scripts directory")
	}

	if cfg.Store.DBPath != "" {
		if cfg.Store.RetentionHours <= 0 {
			return fmt.Errorf("retention must be positive, got %d hours", cfg.Store.RetentionHours)
		}
		if err := ValidateCronExpression(cfg.Store.PruneCron); err != nil {
			return err
		}
	}

	if cfg.Limits.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}

	return nil
}

// ValidateWebdriver checks that name is a driver key the renderer can start
func ValidateWebdriver(name string) error {
	for _, known := range KnownWebdrivers {
		if name == known {
			return nil
		}
	}
	return fmt.Errorf("unrecognized webdriver '%s', expected one of %s", name, strings.Join(KnownWebdrivers, ", "))
}
