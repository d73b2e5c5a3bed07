package agent

import (
	"context"
	"sync"
	"time"

	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/store"
)

// RetentionConfig defines forecast retention and store maintenance
// intervals
type RetentionConfig struct {
	Enabled        bool
	MaxAge         time.Duration
	SweepInterval  time.Duration
	VacuumInterval time.Duration
}

// DefaultRetentionConfig returns sensible defaults for retention
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:        true,
		MaxAge:         7 * 24 * time.Hour,
		SweepInterval:  time.Hour,
		VacuumInterval: 24 * time.Hour,
	}
}

// RetentionStats tracks retention operations
type RetentionStats struct {
	LastPruneTime     time.Time     `json:"last_prune_time"`
	LastVacuumTime    time.Time     `json:"last_vacuum_time"`
	TotalDeleted      int64         `json:"total_deleted"`
	VacuumRuns        int64         `json:"vacuum_runs"`
	LastPruneDuration time.Duration `json:"last_prune_duration_ns"`
}

// Retention prunes stored forecasts older than the retention window and
// periodically compacts the store
type Retention struct {
	config  RetentionConfig
	store   store.Store
	logger  *logging.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats RetentionStats
}

// NewRetention creates a retention manager. A nil metrics recorder is
// allowed for callers that do not scrape.
func NewRetention(config RetentionConfig, st store.Store, logger *logging.Logger, metrics *Metrics) *Retention {
	ctx, cancel := context.WithCancel(context.Background())
	return &Retention{
		config:  config,
		store:   st,
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the background sweep and vacuum loops
func (rm *Retention) Start() {
	if !rm.config.Enabled {
		rm.logger.Info("Forecast retention disabled")
		return
	}

	rm.logger.Info("Starting forecast retention", map[string]interface{}{
		"max_age":        rm.config.MaxAge.String(),
		"sweep_interval": rm.config.SweepInterval.String(),
	})

	rm.wg.Add(2)
	go rm.sweepLoop()
	go rm.vacuumLoop()
}

// Stop stops the background loops and waits for them to finish
func (rm *Retention) Stop() {
	rm.cancel()
	rm.wg.Wait()
	rm.logger.Info("Forecast retention stopped")
}

func (rm *Retention) sweepLoop() {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rm.ctx.Done():
			return
		case <-ticker.C:
			if _, err := rm.prune(); err != nil {
				rm.logger.Error("Retention sweep failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

func (rm *Retention) vacuumLoop() {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.config.VacuumInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rm.ctx.Done():
			return
		case <-ticker.C:
			if err := rm.vacuum(); err != nil {
				rm.logger.Error("Store vacuum failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// prune deletes forecasts created before the retention cutoff
func (rm *Retention) prune() (int, error) {
	start := time.Now()
	cutoff := start.Add(-rm.config.MaxAge)

	deleted, err := rm.store.DeleteForecastsBefore(cutoff)
	if err != nil {
		return 0, err
	}

	elapsed := time.Since(start)

	rm.mu.Lock()
	rm.stats.LastPruneTime = time.Now()
	rm.stats.LastPruneDuration = elapsed
	rm.stats.TotalDeleted += int64(deleted)
	rm.mu.Unlock()

	if rm.metrics != nil {
		rm.metrics.RecordPrune(deleted)
	}

	if deleted > 0 {
		rm.logger.Info("Retention sweep complete", map[string]interface{}{
			"deleted":  deleted,
			"cutoff":   cutoff.Format(time.RFC3339),
			"duration": elapsed.String(),
		})
	}
	return deleted, nil
}

func (rm *Retention) vacuum() error {
	if err := rm.store.Vacuum(); err != nil {
		return err
	}

	rm.mu.Lock()
	rm.stats.LastVacuumTime = time.Now()
	rm.stats.VacuumRuns++
	rm.mu.Unlock()

	rm.logger.Info("Store vacuum complete")
	return nil
}

// PruneNow triggers an immediate sweep, regardless of Enabled
func (rm *Retention) PruneNow() (int, error) {
	return rm.prune()
}

// VacuumNow triggers an immediate vacuum run
func (rm *Retention) VacuumNow() error {
	return rm.vacuum()
}

// Stats returns current retention statistics
func (rm *Retention) Stats() RetentionStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.stats
}
