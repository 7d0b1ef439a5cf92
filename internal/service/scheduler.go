package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/config"
)

// DuePublisher is the work the scheduler runs on every tick.
type DuePublisher interface {
	PublishDue(ctx context.Context) (*PublishReport, error)
}

// Cleaner prunes old operational records.
type Cleaner interface {
	CleanupOldData(daysToKeep int) error
}

type Scheduler struct {
	config    *config.SchedulerConfig
	logger    *zap.Logger
	publisher DuePublisher
	cleaner   Cleaner
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	lastCleanup time.Time
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, publisher DuePublisher, cleaner Cleaner) *Scheduler {
	return &Scheduler{
		config:    cfg,
		logger:    logger,
		publisher: publisher,
		cleaner:   cleaner,
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.IsEnabled() {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.PublishInterval)
	if err != nil {
		s.logger.Error("Invalid publish interval", zap.String("interval", s.config.PublishInterval), zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("publish_interval", s.config.PublishInterval))

	s.ticker = time.NewTicker(interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Run first pass immediately
		s.logger.Info("Running initial publish pass")
		s.runOnce(ctx)

		for {
			select {
			case <-s.ticker.C:
				s.runOnce(ctx)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

// Stop halts the loop and waits for an in-flight run to finish. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Scheduler shutdown completed")
}

// runOnce never retries a failed run in place; the next tick is the retry.
func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	report, err := s.publisher.PublishDue(ctx)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Publish pass failed",
			zap.Error(err),
			zap.Duration("duration", duration))
	} else if report.Due > 0 {
		s.logger.Debug("Publish pass finished",
			zap.Int("published", len(report.Published)),
			zap.Duration("duration", duration))
	}

	s.cleanup()
}

func (s *Scheduler) cleanup() {
	if s.cleaner == nil || s.config.ErrorRetentionDays <= 0 {
		return
	}
	if time.Since(s.lastCleanup) < 24*time.Hour {
		return
	}
	s.lastCleanup = time.Now()
	if err := s.cleaner.CleanupOldData(s.config.ErrorRetentionDays); err != nil {
		s.logger.Error("Failed to cleanup old error logs", zap.Error(err))
	}
}
