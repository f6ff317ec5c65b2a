package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/resource/httpadapter"
	"golang.org/x/time/rate"

	"github.com/yourusername/vegalite-server/pkg/config"
	"github.com/yourusername/vegalite-server/pkg/model"
	"github.com/yourusername/vegalite-server/pkg/render"
	"github.com/yourusername/vegalite-server/pkg/secret"
	"github.com/yourusername/vegalite-server/pkg/store"
)

// ConversionStore is the part of the store the handlers use
type ConversionStore interface {
	CreateConversion(c *model.Conversion) error
	UpdateConversion(c *model.Conversion) error
	ListConversions(limit int) ([]*model.Conversion, error)
	GetArtifact(key string) (*model.Artifact, error)
	PutArtifact(a *model.Artifact) error
	CountConversions() (int, error)
	Ping() error
}

// PrunerStatus reports the outcome of the last retention prune
type PrunerStatus interface {
	LastRun() (*time.Time, error)
}

// driverLister is implemented by renderers that can report their started browsers
type driverLister interface {
	Drivers() []string
}

// Handler handles HTTP API requests
type Handler struct {
	cfg      model.ServerConfig
	renderer render.Backend
	store    ConversionStore
	pruner   PrunerStatus
	cipher   *secret.Cipher
	limiters *clientLimiters
	router   chi.Router
	adapter  backend.CallResourceHandler
}

// NewHandler creates a new API handler. st may be nil to disable the conversion log and cache.
func NewHandler(cfg model.ServerConfig, renderer render.Backend, st ConversionStore) (*Handler, error) {
	h := &Handler{
		cfg:      cfg,
		renderer: renderer,
		store:    st,
	}

	if secret.IsConfigured(cfg.SecretKey) {
		c, err := secret.NewCipher(cfg.SecretKey)
		if err != nil {
			return nil, err
		}
		h.cipher = c
	}

	if cfg.Limits.RateLimit > 0 {
		h.limiters = newClientLimiters(cfg.Limits.RateLimit)
	}

	h.registerRoutes()
	h.adapter = httpadapter.New(h.router)
	return h, nil
}

// SetPruner lets CheckHealth report the retention pruner
func (h *Handler) SetPruner(p PrunerStatus) {
	h.pruner = p
}

// registerRoutes registers all HTTP routes
func (h *Handler) registerRoutes() {
	r := chi.NewRouter()

	if h.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if !h.cfg.Production {
		r.Use(middleware.Logger)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/", h.handleHome)
	r.Get("/healthz", h.handleHealthz)
	r.With(h.rateLimit).Get("/convert_spec", h.handleConvert)
	r.Get("/api/conversions", h.handleConversions)

	h.router = r
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// CallResource implements backend.CallResourceHandler
func (h *Handler) CallResource(ctx context.Context, req *backend.CallResourceRequest, sender backend.CallResourceResponseSender) error {
	return h.adapter.CallResource(ctx, req, sender)
}

// CheckHealth implements backend.CheckHealthHandler
func (h *Handler) CheckHealth(ctx context.Context, req *backend.CheckHealthRequest) (*backend.CheckHealthResult, error) {
	status := backend.HealthStatusOk
	parts := []string{fmt.Sprintf("Renderer '%s' configured", h.renderer.Name())}

	if lister, ok := h.renderer.(driverLister); ok {
		if drivers := lister.Drivers(); len(drivers) > 0 {
			parts = append(parts, "running drivers: "+strings.Join(drivers, ", "))
		} else {
			parts = append(parts, "no driver started yet")
		}
	}

	if h.store == nil {
		parts = append(parts, "conversion log disabled")
	} else {
		if err := h.store.Ping(); err != nil {
			return &backend.CheckHealthResult{
				Status:  backend.HealthStatusError,
				Message: fmt.Sprintf("Conversion store unavailable: %v", err),
			}, nil
		}
		if n, err := h.store.CountConversions(); err == nil {
			parts = append(parts, fmt.Sprintf("%d conversions logged", n))
		}
	}

	if h.pruner != nil {
		lastRun, lastErr := h.pruner.LastRun()
		switch {
		case lastErr != nil:
			status = backend.HealthStatusError
			parts = append(parts, fmt.Sprintf("last prune failed: %v", lastErr))
		case lastRun != nil:
			parts = append(parts, "last prune at "+lastRun.UTC().Format(time.RFC3339))
		default:
			parts = append(parts, "no prune run yet")
		}
	}

	return &backend.CheckHealthResult{
		Status:  status,
		Message: strings.Join(parts, ", "),
	}, nil
}

// handleHome handles GET /
func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	messages := []string{"The endpoint you are looking for is /convert_spec."}
	if h.cipher != nil {
		messages = append(messages, "Server key configured.")
	}
	if h.cfg.AllowPlainSpec {
		messages = append(messages, "Unencrypted allowed.")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(strings.Join(messages, "<br>")))
}

// handleHealthz handles GET /healthz
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleConvert handles GET /convert_spec
func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	req := model.ParseConvertRequest(r.URL.Query())

	policy := model.RequestPolicy{
		AllowPlainSpec: h.cfg.AllowPlainSpec,
		KeyConfigured:  h.cipher != nil,
		MaxSpecBytes:   h.cfg.Limits.MaxSpecBytes,
	}
	if err := policy.Check(req); err != nil {
		log.Printf("[API] Rejected conversion request: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	specText := req.Spec
	if req.Encrypted {
		plain, err := h.cipher.Decrypt(specText)
		if err != nil {
			log.Printf("[API] WARNING: Failed to decrypt spec: %v", err)
			http.Error(w, model.MsgDecryptFailed, http.StatusBadRequest)
			return
		}
		specText = plain
	}

	spec, err := decodeSpec(specText)
	if err != nil {
		http.Error(w, model.MsgInvalidSpecJSON, http.StatusBadRequest)
		return
	}
	spec["width"] = req.Width

	opts := render.SaveOptions{Font: req.Font}
	if model.IsScaled(req.Format) {
		opts.Scale = req.Scale
	}

	conv := &model.Conversion{
		Format:    req.Format,
		Width:     req.Width,
		Scale:     opts.Scale,
		Encrypted: req.Encrypted,
		Font:      h.effectiveFont(req.Font),
		Driver:    h.renderer.Name(),
		Status:    model.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	h.recordStart(conv)

	key, err := cacheKey(spec, req.Format, opts.Scale, conv.Font)
	if err != nil {
		h.recordFinish(conv, model.StatusFailed, nil, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if artifact := h.cachedArtifact(key); artifact != nil {
		log.Printf("[API] DEBUG: Serving %s from cache (key %s)", req.Format, key[:12])
		h.recordFinish(conv, model.StatusCached, artifact.Data, nil)
		writeOutput(w, artifact.ContentType, artifact.Data)
		return
	}

	out, err := h.renderer.Save(r.Context(), spec, req.Format, opts)
	if err != nil {
		log.Printf("[API] ERROR: Conversion %s failed: %v", conv.ID, err)
		h.recordFinish(conv, model.StatusFailed, nil, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.storeArtifact(key, out)
	h.recordFinish(conv, model.StatusCompleted, out.Data, nil)
	writeOutput(w, out.ContentType, out.Data)
}

// handleConversions handles GET /api/conversions
func (h *Handler) handleConversions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "Conversion log disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	conversions, err := h.store.ListConversions(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]interface{}{"conversions": conversions})
}

// decodeSpec parses a spec object keeping numbers as written
func decodeSpec(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var spec map[string]any
	if err := dec.Decode(&spec); err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, errors.New("spec is not an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after spec")
	}
	return spec, nil
}

func (h *Handler) effectiveFont(font string) string {
	if font != "" {
		return font
	}
	return render.ActiveFont()
}

func (h *Handler) recordStart(conv *model.Conversion) {
	if h.store == nil {
		return
	}
	if err := h.store.CreateConversion(conv); err != nil {
		log.Printf("[API] WARNING: Failed to record conversion: %v", err)
	}
}

func (h *Handler) recordFinish(conv *model.Conversion, status string, data []byte, convErr error) {
	if h.store == nil || conv.ID == "" {
		return
	}

	finishedAt := time.Now().UTC()
	conv.Status = status
	conv.FinishedAt = &finishedAt
	conv.Bytes = int64(len(data))
	if data != nil {
		sum := sha256.Sum256(data)
		conv.Checksum = hex.EncodeToString(sum[:])
	}
	if convErr != nil {
		conv.ErrorText = convErr.Error()
	}

	if err := h.store.UpdateConversion(conv); err != nil {
		log.Printf("[API] WARNING: Failed to update conversion %s: %v", conv.ID, err)
	}
}

func (h *Handler) cachedArtifact(key string) *model.Artifact {
	if h.store == nil || !h.cfg.Store.CacheEnabled {
		return nil
	}
	artifact, err := h.store.GetArtifact(key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[API] WARNING: Failed to read cache: %v", err)
		}
		return nil
	}
	return artifact
}

func (h *Handler) storeArtifact(key string, out *render.Output) {
	if h.store == nil || !h.cfg.Store.CacheEnabled {
		return
	}
	err := h.store.PutArtifact(&model.Artifact{
		Key:         key,
		ContentType: out.ContentType,
		Data:        out.Data,
	})
	if err != nil {
		log.Printf("[API] WARNING: Failed to cache output: %v", err)
	}
}

// cacheKey identifies a rendering by its decoded spec and options
func cacheKey(spec map[string]any, format string, scale int, font string) (string, error) {
	// map keys are marshalled in sorted order
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("failed to encode spec: %w", err)
	}

	hash := sha256.New()
	hash.Write(data)
	fmt.Fprintf(hash, "\x00%s\x00%d\x00%s", format, scale, font)
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func writeOutput(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// rateLimit rejects clients exceeding the configured requests per second
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiters != nil && !h.limiters.get(clientKey(r)).Allow() {
			http.Error(w, model.MsgRateLimitExceeded, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limiterIdleTTL is how long a client's bucket is kept without requests
const limiterIdleTTL = 10 * time.Minute

// clientLimiters keeps one token bucket per client address, dropping idle ones
type clientLimiters struct {
	mu        sync.Mutex
	limit     int
	limiters  map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(limit int) *clientLimiters {
	return &clientLimiters{
		limit:    limit,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
}

func (c *clientLimiters) get(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= limiterIdleTTL {
		c.sweep(now)
	}

	l, ok := c.limiters[key]
	if !ok {
		l = &clientLimiter{limiter: config.CreateLimiter(c.limit)}
		c.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter
}

// sweep removes buckets idle for longer than limiterIdleTTL. Caller holds c.mu.
func (c *clientLimiters) sweep(now time.Time) {
	for key, l := range c.limiters {
		if now.Sub(l.lastSeen) > limiterIdleTTL {
			delete(c.limiters, key)
		}
	}
	c.lastSweep = now
}
