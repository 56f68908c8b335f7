package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/upstream/types"
)

type memberOutcome int

const (
	outcomeConnected memberOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// memberResult is the outcome of one member's connection attempt
type memberResult struct {
	member  config.ProfileMember
	outcome memberOutcome
	err     error
	elapsed time.Duration
}

// planWaves groups members by ascending startup order. Members sharing an
// order form one wave and keep their profile order inside it.
func planWaves(members []config.ProfileMember) [][]config.ProfileMember {
	if len(members) == 0 {
		return nil
	}

	sorted := make([]config.ProfileMember, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartupOrder < sorted[j].StartupOrder
	})

	var waves [][]config.ProfileMember
	for i, m := range sorted {
		if i == 0 || m.StartupOrder != sorted[i-1].StartupOrder {
			waves = append(waves, nil)
		}
		waves[len(waves)-1] = append(waves[len(waves)-1], m)
	}
	return waves
}

// processWave connects every member of a wave in parallel and returns once
// all of them resolved
func (r *Registry) processWave(ctx context.Context, waveNum int, wave []config.ProfileMember) []memberResult {
	if len(wave) == 0 {
		return nil
	}

	jobChan := make(chan config.ProfileMember, len(wave))
	resultChan := make(chan memberResult, len(wave))

	for _, m := range wave {
		jobChan <- m
	}
	close(jobChan)

	workers := r.workerCount
	if workers > len(wave) {
		workers = len(wave)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.waveWorker(ctx, workerID, waveNum, jobChan, resultChan)
		}(i)
	}

	wg.Wait()
	close(resultChan)

	results := make([]memberResult, 0, len(wave))
	for result := range resultChan {
		results = append(results, result)
	}
	return results
}

func (r *Registry) waveWorker(ctx context.Context, workerID, waveNum int, jobs <-chan config.ProfileMember, results chan<- memberResult) {
	for m := range jobs {
		result := r.connectMember(ctx, m)

		switch result.outcome {
		case outcomeConnected:
			r.logger.Debug("Profile member connected",
				zap.Int("worker_id", workerID),
				zap.Int("wave", waveNum),
				zap.String("server", m.ServerID),
				zap.Duration("elapsed", result.elapsed))
		case outcomeFailed:
			r.logger.Warn("Profile member failed to connect",
				zap.Int("worker_id", workerID),
				zap.Int("wave", waveNum),
				zap.String("server", m.ServerID),
				zap.Bool("required", m.Required),
				zap.Error(result.err))
		case outcomeSkipped:
			r.logger.Debug("Profile member skipped",
				zap.Int("wave", waveNum),
				zap.String("server", m.ServerID),
				zap.Error(result.err))
		}

		results <- result
	}
}

// applyStartupDelays waits out the startup delay of every member that
// connected, one after another in profile order, before the next wave starts.
// Cancelling runCtx cuts the waits short.
func (r *Registry) applyStartupDelays(runCtx context.Context, waveNum int, wave []config.ProfileMember, results []memberResult) {
	connected := make(map[string]bool, len(results))
	for _, res := range results {
		if res.outcome == outcomeConnected {
			connected[res.member.ServerID] = true
		}
	}

	for _, m := range wave {
		delay := m.StartupDelay.Duration()
		if delay <= 0 || !connected[m.ServerID] {
			continue
		}
		if runCtx.Err() != nil {
			return
		}
		r.logger.Debug("Waiting startup delay",
			zap.Int("wave", waveNum),
			zap.String("server", m.ServerID),
			zap.Duration("delay", delay))
		sleep(runCtx, delay)
	}
}

// connectMember brings one member to a terminal connection state. Members
// that are already connected count as connected; members already connecting
// are awaited rather than connected twice.
func (r *Registry) connectMember(ctx context.Context, m config.ProfileMember) memberResult {
	start := time.Now()
	result := memberResult{member: m}

	server, ok := r.connector.Get(m.ServerID)
	if !ok {
		result.outcome = outcomeSkipped
		result.err = fmt.Errorf("unknown server %q", m.ServerID)
		return result
	}
	if !m.ShouldAutoConnect() {
		result.outcome = outcomeSkipped
		return result
	}

	status := server.Status
	switch status {
	case types.StatusConnected:
	case types.StatusConnecting:
		status = r.connector.AwaitSettled(ctx, m.ServerID)
	default:
		result.err = r.connector.ConnectWithEnv(ctx, m.ServerID, m.EnvOverrides)
		status = r.connector.AwaitSettled(ctx, m.ServerID)
	}
	result.elapsed = time.Since(start)

	if status == types.StatusConnected {
		result.outcome = outcomeConnected
		result.err = nil
		return result
	}

	result.outcome = outcomeFailed
	if result.err == nil {
		if s, ok := r.connector.Get(m.ServerID); ok && s.LastError != "" {
			result.err = errors.New(s.LastError)
		} else {
			result.err = fmt.Errorf("connection ended %s", status)
		}
	}
	return result
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
