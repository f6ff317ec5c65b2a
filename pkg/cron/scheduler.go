package cron

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/robfig/cron/v3"
	"github.com/yourusername/vegalite-server/pkg/store"
)

// Pruner deletes stored conversions and artifacts older than a cutoff
type Pruner interface {
	Prune(before time.Time) (store.PruneResult, error)
}

// Scheduler prunes the conversion log and artifact cache on a cron schedule
type Scheduler struct {
	pruner    Pruner
	cron      *cron.Cron
	cronExpr  string
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	lastRun *time.Time
	lastErr error
}

// NewScheduler creates a retention scheduler. cronExpr uses the standard five fields.
func NewScheduler(p Pruner, cronExpr string, retention time.Duration) *Scheduler {
	return &Scheduler{
		pruner:    p,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		cronExpr:  cronExpr,
		retention: retention,
		now:       time.Now,
	}
}

// Start registers the prune job and starts the cron runner
func (s *Scheduler) Start() error {
	if s.retention <= 0 {
		return fmt.Errorf("retention must be positive, got %v", s.retention)
	}

	entryID, err := s.cron.AddFunc(s.cronExpr, s.prune)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	log.Printf("[CRON] Retention pruner started with cron expression '%s' (entry ID: %d), retention %v", s.cronExpr, entryID, s.retention)
	log.Printf("[CRON] Next prune at %s", s.NextRun(s.now()).Format(time.RFC3339))

	return nil
}

// Stop stops the cron runner and waits for a running prune to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("[CRON] Retention pruner stopped")
}

// RunOnce prunes everything older than the retention window
func (s *Scheduler) RunOnce() (store.PruneResult, error) {
	now := s.now()
	cutoff := now.Add(-s.retention)

	res, err := s.pruner.Prune(cutoff)

	s.mu.Lock()
	s.lastRun = &now
	s.lastErr = err
	s.mu.Unlock()

	return res, err
}

func (s *Scheduler) prune() {
	log.Printf("[CRON] Pruning records older than %v at %s", s.retention, s.now().Format(time.RFC3339))

	res, err := s.RunOnce()
	if err != nil {
		log.Printf("[CRON] ERROR: Failed to prune: %v", err)
		return
	}
	log.Printf("[CRON] Pruned %d conversion(s) and %d artifact(s), next prune at %s",
		res.Conversions, res.Artifacts, s.NextRun(s.now()).Format(time.RFC3339))
}

// LastRun returns when the last prune ran and its error, if any
func (s *Scheduler) LastRun() (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// NextRun calculates the next prune time after from
func (s *Scheduler) NextRun(from time.Time) time.Time {
	expr, err := cronexpr.Parse(s.cronExpr)
	if err != nil {
		log.Printf("[CRON] WARNING: Failed to parse cron expression '%s': %v, falling back to 1 hour", s.cronExpr, err)
		return from.Add(1 * time.Hour).UTC().Truncate(time.Second)
	}

	// Strip monotonic clock reading by truncating to second precision
	return expr.Next(from).UTC().Truncate(time.Second)
}
