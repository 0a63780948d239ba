package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/engine"
)

// Service runs the ingestion engine on a cron schedule. Overlapping runs
// are skipped rather than queued.
type Service struct {
	engine *engine.Service
	cron   *cron.Cron
	logger arbor.ILogger

	mu           sync.Mutex
	entryID      cron.EntryID
	isProcessing bool
	running      bool
}

// NewService creates a stopped scheduler for the engine.
func NewService(eng *engine.Service, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Service{
		engine: eng,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules ingestion runs with the given cron expression and starts
// the cron loop.
func (s *Service) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	entryID, err := s.cron.AddFunc(schedule, s.runOnce)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", schedule).
		Msg("Scheduler started")

	return nil
}

// Stop halts the cron loop and waits for an in-flight run to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Timed out waiting for scheduled run to finish")
	}

	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether the cron loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runOnce executes one full ingestion pass unless one is already active.
func (s *Service) runOnce() {
	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		s.logger.Warn().Msg("Previous ingestion run still active, skipping this trigger")
		return
	}
	s.isProcessing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isProcessing = false
		s.mu.Unlock()
	}()

	start := time.Now()
	ctx := context.Background()
	results := s.retryFailed(ctx, s.engine.ProcessAllSources(ctx))

	processed, failed := 0, 0
	for _, r := range results {
		processed += len(r.Processed)
		failed += len(r.Failed)
	}

	s.logger.Info().
		Int("sources", len(results)).
		Int("processed", processed).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Scheduled ingestion run completed")
}

// retryFailed re-runs sources whose batch had failures, up to the engine's
// declared attempt count with doubling delays. Each pass restarts from
// discovery; a clean later pass replaces the failed result.
func (s *Service) retryFailed(ctx context.Context, results []*models.BatchResult) []*models.BatchResult {
	opts := s.engine.RetryOptions()
	attempts := opts.Attempts()
	if attempts <= 1 {
		return results
	}

	for i, result := range results {
		if len(result.Failed) == 0 {
			continue
		}

		delay := opts.RetryDelay
		for attempt := 2; attempt <= attempts; attempt++ {
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return results
				case <-timer.C:
				}
				delay *= 2
			}

			s.logger.Debug().
				Str("source_id", result.SourceID).
				Int("attempt", attempt).
				Msg("Retrying failed source batch")

			retried, err := s.engine.ProcessAllDocuments(ctx, result.SourceID)
			if err != nil {
				s.logger.Warn().
					Err(err).
					Str("source_id", result.SourceID).
					Int("attempt", attempt).
					Msg("Source retry failed")
				continue
			}

			results[i] = retried
			if len(retried.Failed) == 0 {
				break
			}
		}
	}

	return results
}
