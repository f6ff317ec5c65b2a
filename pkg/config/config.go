// Package config builds the server configuration from defaults, an optional YAML
// file and VEGALITE_SERVER_* environment variables, in increasing precedence.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/vegalite-server/pkg/model"
)

// Environment variables
const (
	EnvConfigFile     = "VEGALITE_SERVER_CONFIG"
	EnvAllowPlain     = "VEGALITE_SERVER_ALLOW_PLAIN_SPEC"
	EnvSecretKey      = "VEGALITE_SERVER_SECRET_KEY"
	EnvProduction     = "VEGALITE_SERVER_PRODUCTION"
	EnvPort           = "PORT"
	EnvFont           = "VEGALITE_SERVER_FONT"
	EnvWebdriver      = "VEGALITE_SERVER_WEBDRIVER"
	EnvDriverTimeout  = "VEGALITE_SERVER_DRIVER_TIMEOUT"
	EnvOffline        = "VEGALITE_SERVER_OFFLINE"
	EnvScriptsDir     = "VEGALITE_SERVER_SCRIPTS_DIR"
	EnvBrowserPath    = "VEGALITE_SERVER_BROWSER_PATH"
	EnvDBPath         = "VEGALITE_SERVER_DB_PATH"
	EnvRetentionHours = "VEGALITE_SERVER_RETENTION_HOURS"
	EnvPruneCron      = "VEGALITE_SERVER_PRUNE_CRON"
	EnvCache          = "VEGALITE_SERVER_CACHE"
	EnvRateLimit      = "VEGALITE_SERVER_RATE_LIMIT"
	EnvTrustProxy     = "VEGALITE_SERVER_TRUST_PROXY"
)

// Load returns the validated configuration
func Load() (model.ServerConfig, error) {
	cfg := model.DefaultServerConfig()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := parseFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := model.ValidateServerConfig(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseFile(path string, cfg *model.ServerConfig) error {
	data, err := os.ReadFile(path)

	if err != nil {
		return err
	}

	data = []byte(os.ExpandEnv(string(data)))

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil {
		return err
	}

	return nil
}

func applyEnv(cfg *model.ServerConfig) error {
	if v, ok := os.LookupEnv(EnvAllowPlain); ok {
		cfg.AllowPlainSpec = model.ParseBool(v)
	}
	if v, ok := os.LookupEnv(EnvSecretKey); ok {
		cfg.SecretKey = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvProduction); ok {
		cfg.Production = model.ParseBool(v)
	}
	if v, ok := os.LookupEnv(EnvOffline); ok {
		cfg.Renderer.Offline = model.ParseBool(v)
	}
	if v, ok := os.LookupEnv(EnvCache); ok {
		cfg.Store.CacheEnabled = model.ParseBool(v)
	}
	if v, ok := os.LookupEnv(EnvTrustProxy); ok {
		cfg.TrustProxy = model.ParseBool(v)
	}

	stringVars := map[string]*string{
		EnvFont:        &cfg.Renderer.Font,
		EnvWebdriver:   &cfg.Renderer.Webdriver,
		EnvScriptsDir:  &cfg.Renderer.ScriptsDir,
		EnvBrowserPath: &cfg.Renderer.BrowserPath,
		EnvDBPath:      &cfg.Store.DBPath,
		EnvPruneCron:   &cfg.Store.PruneCron,
	}
	for name, dst := range stringVars {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	intVars := map[string]*int{
		EnvPort:           &cfg.Port,
		EnvDriverTimeout:  &cfg.Renderer.DriverTimeoutMS,
		EnvRetentionHours: &cfg.Store.RetentionHours,
		EnvRateLimit:      &cfg.Limits.RateLimit,
	}
	for name, dst := range intVars {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got '%s'", name, v)
		}
		*dst = n
	}

	return nil
}

// CreateLimiter returns a limiter allowing limit requests per second, or nil when disabled
func CreateLimiter(limit int) *rate.Limiter {
	if limit <= 0 {
		return nil
	}

	return rate.NewLimiter(rate.Limit(limit), limit)
}
