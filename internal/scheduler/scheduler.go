// Package scheduler runs periodic datastore maintenance: garbage collection
// and prune jobs on per-datastore cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stashd-io/stashd/internal/config"
	"github.com/stashd-io/stashd/internal/datastore"
	"github.com/stashd-io/stashd/internal/gc"
	"github.com/stashd-io/stashd/internal/logging"
	"github.com/stashd-io/stashd/internal/metrics"
	"github.com/stashd-io/stashd/internal/prune"
)

// Scheduler owns the cron runner and the maintenance jobs registered on it.
type Scheduler struct {
	cron         *cron.Cron
	log          *logging.Logger
	gcMetrics    *metrics.GCMetrics
	pruneMetrics *metrics.PruneMetrics

	mu      sync.Mutex
	running bool
	jobs    int
}

// New creates a Scheduler. The metrics arguments may be nil, in which case
// runs are not recorded.
func New(log *logging.Logger, gcMetrics *metrics.GCMetrics, pruneMetrics *metrics.PruneMetrics) *Scheduler {
	if log == nil {
		log = logging.Global()
	}
	return &Scheduler{
		cron:         cron.New(),
		log:          log,
		gcMetrics:    gcMetrics,
		pruneMetrics: pruneMetrics,
	}
}

// AddDatastore registers the datastore's scheduled jobs. Datastores without
// schedules register nothing and are maintained manually.
func (s *Scheduler) AddDatastore(store *datastore.Store, cfg config.DatastoreConfig) error {
	if cfg.GCSchedule != "" {
		_, err := s.cron.AddFunc(cfg.GCSchedule, func() {
			s.runGC(store, cfg)
		})
		if err != nil {
			return fmt.Errorf("schedule gc for %q: %w", store.Name(), err)
		}
		s.addJob()
	}
	if cfg.PruneSchedule != "" {
		if cfg.Keep.IsEmpty() {
			return fmt.Errorf("schedule prune for %q: %w", store.Name(), prune.ErrEmptyPolicy)
		}
		_, err := s.cron.AddFunc(cfg.PruneSchedule, func() {
			s.runPrune(store, cfg)
		})
		if err != nil {
			return fmt.Errorf("schedule prune for %q: %w", store.Name(), err)
		}
		s.addJob()
	}
	return nil
}

func (s *Scheduler) addJob() {
	s.mu.Lock()
	s.jobs++
	s.mu.Unlock()
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs
}

// Start begins executing registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	s.log.Infof("scheduler started", map[string]any{"jobs": s.Jobs()})
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// runGC executes one scheduled garbage collection run.
func (s *Scheduler) runGC(store *datastore.Store, cfg config.DatastoreConfig) {
	runner := gc.NewRunner(store, s.log)
	started := time.Now()

	st, err := runner.Run(context.Background(), gc.Options{
		RemoveDespiteDamage: cfg.GCRemoveDespiteDamage,
	})
	if err != nil {
		if errors.Is(err, datastore.ErrGCRunning) {
			s.log.Warnf("scheduled gc skipped, run already active", map[string]any{
				"datastore": store.Name(),
			})
			return
		}
		s.log.Errorf("scheduled gc failed", map[string]any{
			"datastore": store.Name(),
			"error":     err.Error(),
		})
		if s.gcMetrics != nil {
			s.gcMetrics.RecordFailure(store.Name())
		}
		return
	}
	if s.gcMetrics != nil {
		s.gcMetrics.RecordRun(store.Name(), time.Since(started), metrics.GCRunStats{
			DiskBytes:     st.DiskBytes,
			DiskChunks:    st.DiskChunks,
			PendingBytes:  st.PendingBytes,
			PendingChunks: st.PendingChunks,
			RemovedBytes:  st.RemovedBytes,
			RemovedChunks: st.RemovedChunks,
			StillBad:      st.StillBad,
		})
	}
}

// runPrune executes one scheduled prune run.
func (s *Scheduler) runPrune(store *datastore.Store, cfg config.DatastoreConfig) {
	started := time.Now()

	result, err := prune.Execute(context.Background(), s.log, store, cfg.Keep, prune.ExecuteOptions{})
	if err != nil {
		s.log.Errorf("scheduled prune failed", map[string]any{
			"datastore": store.Name(),
			"error":     err.Error(),
		})
		if s.pruneMetrics != nil {
			s.pruneMetrics.RecordFailure(store.Name())
		}
		return
	}
	if s.pruneMetrics != nil {
		s.pruneMetrics.RecordRun(store.Name(), time.Since(started), metrics.PruneRunStats{
			Removed:   result.Removed,
			Kept:      result.Kept,
			Protected: result.Protected,
		})
	}
}
