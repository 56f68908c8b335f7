package upstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/upstream/types"
)

// HealthMonitor pings connected servers on an interval so their metrics stay
// current. It never reconnects and never changes a server's status.
type HealthMonitor struct {
	registry    *Registry
	interval    time.Duration
	workerCount int
	logger      *zap.Logger
}

// NewHealthMonitor creates a monitor; a non-positive interval disables it
func NewHealthMonitor(registry *Registry, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		registry:    registry,
		interval:    interval,
		workerCount: 5,
		logger:      logger.Named("health"),
	}
}

// Run blocks until ctx is done, checking every interval
func (h *HealthMonitor) Run(ctx context.Context) {
	if h.interval <= 0 {
		h.logger.Info("Health checks disabled")
		return
	}

	h.logger.Info("Starting health check monitor", zap.Duration("interval", h.interval))

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Health check monitor stopped")
			return
		case <-ticker.C:
			checked, failed := h.CheckOnce(ctx)
			if checked > 0 {
				h.logger.Debug("Health check round completed",
					zap.Int("checked", checked),
					zap.Int("failed", failed))
			}
		}
	}
}

// CheckOnce pings every connected server through a small worker pool and
// returns how many were pinged and how many pings failed.
func (h *HealthMonitor) CheckOnce(ctx context.Context) (checked, failed int) {
	var ids []string
	for _, s := range h.registry.Servers() {
		if s.Status == types.StatusConnected {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return 0, 0
	}

	jobs := make(chan string, len(ids))
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)

	results := make(chan error, len(ids))
	workers := h.workerCount
	if workers > len(ids) {
		workers = len(ids)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				pingCtx, cancel := context.WithTimeout(ctx, config.QuickOperationTimeout)
				results <- h.registry.Ping(pingCtx, id)
				cancel()
			}
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		if errors.Is(err, ErrNotConnected) {
			continue
		}
		checked++
		if err != nil {
			failed++
		}
	}
	return checked, failed
}
