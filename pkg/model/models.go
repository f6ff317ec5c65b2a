package model

import (
	"time"
)

// Conversion records one /convert_spec request
type Conversion struct {
	ID         string     `json:"id"`
	Format     string     `json:"format"`
	Width      int        `json:"width"`
	Scale      int        `json:"scale"`
	Encrypted  bool       `json:"encrypted"`
	Font       string     `json:"font,omitempty"`
	Driver     string     `json:"driver"`
	Status     string     `json:"status"`
	ErrorText  string     `json:"error_text,omitempty"`
	Bytes      int64      `json:"bytes"`
	Checksum   string     `json:"checksum,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Conversion statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCached    = "cached"
)

// Artifact is a rendered output kept for repeated requests of the same chart
type Artifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ServerConfig holds the process configuration
type ServerConfig struct {
	Port           int            `json:"port" yaml:"port"`
	Production     bool           `json:"production" yaml:"production"`
	AllowPlainSpec bool           `json:"allow_plain_spec" yaml:"allow_plain_spec"`
	TrustProxy     bool           `json:"trust_proxy" yaml:"trust_proxy"` // take client addresses from X-Forwarded-For / X-Real-IP
	SecretKey      string         `json:"-" yaml:"secret_key"` // Fernet key; empty means not configured
	Renderer       RendererConfig `json:"renderer" yaml:"renderer"`
	Store          StoreConfig    `json:"store" yaml:"store"`
	Limits         Limits         `json:"limits" yaml:"limits"`
}

// RendererConfig holds browser and chart library configuration
type RendererConfig struct {
	Webdriver       string            `json:"webdriver" yaml:"webdriver"` // "chrome", "firefox" or "chromium"
	DriverTimeoutMS int               `json:"driver_timeout_ms" yaml:"driver_timeout_ms"`
	Font            string            `json:"font,omitempty" yaml:"font"` // Google Font family injected into every chart
	Offline         bool              `json:"offline" yaml:"offline"`
	ScriptsDir      string            `json:"scripts_dir,omitempty" yaml:"scripts_dir"` // vega.js, vega-lite.js, vega-embed.js for offline mode
	BrowserPath     string            `json:"browser_path,omitempty" yaml:"browser_path"`
	Versions        map[string]string `json:"versions,omitempty" yaml:"versions"`
}

// StoreConfig holds conversion log and cache configuration
type StoreConfig struct {
	DBPath         string `json:"db_path" yaml:"db_path"` // empty disables the store
	RetentionHours int    `json:"retention_hours" yaml:"retention_hours"`
	PruneCron      string `json:"prune_cron" yaml:"prune_cron"`
	CacheEnabled   bool   `json:"cache_enabled" yaml:"cache_enabled"`
}

// Limits holds request limits
type Limits struct {
	RateLimit    int `json:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
	MaxSpecBytes int `json:"max_spec_bytes" yaml:"max_spec_bytes"`
}

// DriverTimeout returns the page-load timeout as a duration
func (r RendererConfig) DriverTimeout() time.Duration {
	return time.Duration(r.DriverTimeoutMS) * time.Millisecond
}

// DefaultVersions are the chart library versions loaded from the CDN
var DefaultVersions = map[string]string{
	"vega":       "5.21.0",
	"vega-lite":  "4.17.0",
	"vega-embed": "6.17.0",
}

// DefaultServerConfig returns the configuration used when nothing is set
func DefaultServerConfig() ServerConfig {
	versions := make(map[string]string, len(DefaultVersions))
	for k, v := range DefaultVersions {
		versions[k] = v
	}

	return ServerConfig{
		Port:           5000,
		Production:     true,
		AllowPlainSpec: true,
		Renderer: RendererConfig{
			Webdriver:       "chrome",
			DriverTimeoutMS: 30000,
			Versions:        versions,
		},
		Store: StoreConfig{
			DBPath:         "vegalite-server.db",
			RetentionHours: 24,
			PruneCron:      "0 * * * *",
			CacheEnabled:   true,
		},
		Limits: Limits{
			MaxSpecBytes: 1 << 20,
		},
	}
}
