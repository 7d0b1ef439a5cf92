package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/lifecycle"
	"github.com/ifuryst/cadence/internal/metrics"
	"github.com/ifuryst/cadence/internal/models"
)

const sourceTrigger = "trigger"

// PublishReport summarises one run of the scheduled-publish trigger.
type PublishReport struct {
	Due       int           `json:"due"`
	Published []uint        `json:"published"`
	Skipped   []uint        `json:"skipped"`
	Failed    []uint        `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Invalidator is notified after the set of items changes.
type Invalidator interface {
	Invalidate()
}

// PublisherService promotes scheduled items whose time has come.
type PublisherService struct {
	store       ContentStore
	logger      *zap.Logger
	metrics     *metrics.Metrics
	errors      ErrorRecorder
	invalidator Invalidator
	Now         func() time.Time
}

func NewPublisherService(store ContentStore, logger *zap.Logger, m *metrics.Metrics, recorder ErrorRecorder, inv Invalidator) *PublisherService {
	if m == nil {
		m = metrics.NewNop()
	}
	return &PublisherService{
		store:       store,
		logger:      logger,
		metrics:     m,
		errors:      recorder,
		invalidator: inv,
		Now:         time.Now,
	}
}

// PublishDue lists scheduled items due at or before now and publishes each
// one independently. A failure on one item is logged and recorded; it does
// not stop the others. Only a failure to list is returned as an error, and
// the caller retries on its next run.
func (s *PublisherService) PublishDue(ctx context.Context) (*PublishReport, error) {
	start := time.Now()
	now := s.Now()

	due, err := s.store.List(ctx, ItemFilter{DueAt: &now})
	if err != nil {
		s.metrics.TriggerRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list due items: %w", err)
	}

	report := &PublishReport{Due: len(due)}

	for _, item := range due {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("Publish run interrupted", zap.Int("remaining", len(due)-len(report.Published)-len(report.Skipped)-len(report.Failed)))
			break
		}

		published, err := s.publishOne(ctx, item, now)
		switch {
		case err == nil:
			report.Published = append(report.Published, published.ID)
			s.metrics.TriggerItemsTotal.WithLabelValues("published").Inc()
			s.metrics.TransitionsTotal.WithLabelValues(string(item.Status), string(published.Status), sourceTrigger).Inc()
			s.logger.Info("Published scheduled item",
				zap.Uint("item_id", item.ID),
				zap.Timep("scheduled_for", item.ScheduledFor),
				zap.Timep("published_at", published.PublishedAt))

		case errors.Is(err, ErrStaleItemState) || errors.Is(err, ErrItemNotFound):
			// Someone else moved or removed it between list and update.
			report.Skipped = append(report.Skipped, item.ID)
			s.metrics.TriggerItemsTotal.WithLabelValues("skipped").Inc()
			s.logger.Info("Skipped due item that changed concurrently",
				zap.Uint("item_id", item.ID), zap.Error(err))

		default:
			report.Failed = append(report.Failed, item.ID)
			s.metrics.TriggerItemsTotal.WithLabelValues("failed").Inc()
			s.logger.Error("Failed to publish due item", zap.Uint("item_id", item.ID), zap.Error(err))
			s.recordFailure(item, err)
		}
	}

	if len(report.Published) > 0 && s.invalidator != nil {
		s.invalidator.Invalidate()
	}

	report.Duration = time.Since(start)
	s.metrics.TriggerRunDuration.Observe(report.Duration.Seconds())
	if len(report.Failed) > 0 {
		s.metrics.TriggerRunsTotal.WithLabelValues("partial").Inc()
	} else {
		s.metrics.TriggerRunsTotal.WithLabelValues("ok").Inc()
	}

	s.logger.Info("Publish run completed",
		zap.Int("due", report.Due),
		zap.Int("published", len(report.Published)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration))

	return report, nil
}

func (s *PublisherService) publishOne(ctx context.Context, item models.ContentItem, now time.Time) (*models.ContentItem, error) {
	next, err := lifecycle.Apply(item, lifecycle.Publish(), now)
	if err != nil {
		return nil, err
	}
	return s.store.Update(ctx, item.ID, item.Status, PatchFrom(next, sourceTrigger))
}

func (s *PublisherService) recordFailure(item models.ContentItem, cause error) {
	if s.errors == nil {
		return
	}
	err := s.errors.RecordError("ERROR", sourceTrigger,
		fmt.Sprintf("Failed to publish item %d", item.ID), cause.Error(),
		WithItem(item.ID),
		WithContext(map[string]interface{}{
			"title":         item.Title,
			"scheduled_for": item.ScheduledFor,
		}))
	if err != nil {
		s.logger.Error("Failed to record publish error", zap.Uint("item_id", item.ID), zap.Error(err))
	}
}
