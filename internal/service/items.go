package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/lifecycle"
	"github.com/ifuryst/cadence/internal/metrics"
	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/pkg/util"
)

const sourceAPI = "api"

// ItemService applies direct lifecycle transitions requested by an admin.
type ItemService struct {
	store       ContentStore
	logger      *zap.Logger
	metrics     *metrics.Metrics
	invalidator Invalidator
	Now         func() time.Time
}

func NewItemService(store ContentStore, logger *zap.Logger, m *metrics.Metrics, inv Invalidator) *ItemService {
	if m == nil {
		m = metrics.NewNop()
	}
	return &ItemService{
		store:       store,
		logger:      logger,
		metrics:     m,
		invalidator: inv,
		Now:         time.Now,
	}
}

func (s *ItemService) Get(ctx context.Context, id uint) (*models.ContentItem, error) {
	return s.store.Get(ctx, id)
}

func (s *ItemService) List(ctx context.Context, statuses ...models.Status) ([]models.ContentItem, error) {
	return s.store.List(ctx, ItemFilter{Statuses: statuses})
}

func (s *ItemService) History(ctx context.Context, id uint) ([]models.TransitionEvent, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

// CreateDraft stores a new draft with a slug derived from its title.
func (s *ItemService) CreateDraft(ctx context.Context, title, category string, orderHint *int) (*models.ContentItem, error) {
	item := &models.ContentItem{
		Title:     title,
		Slug:      util.GenerateSlug(title),
		Category:  category,
		OrderHint: orderHint,
		Status:    models.StatusDraft,
	}
	if err := s.store.Create(ctx, item); err != nil {
		return nil, err
	}
	s.logger.Info("Created draft", zap.Uint("item_id", item.ID), zap.String("slug", item.Slug))
	s.invalidate()
	return item, nil
}

// Transition reads the item, applies t and writes the result conditionally
// on the status that was read.
func (s *ItemService) Transition(ctx context.Context, id uint, t lifecycle.Transition) (*models.ContentItem, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := lifecycle.Apply(*current, t, s.Now())
	if err != nil {
		s.metrics.RejectionsTotal.WithLabelValues(rejectReason(err), sourceAPI).Inc()
		s.logger.Warn("Transition rejected", zap.Uint("item_id", id), zap.Stringer("transition", t), zap.Error(err))
		return nil, err
	}

	updated, err := s.store.Update(ctx, id, current.Status, PatchFrom(next, sourceAPI))
	if err != nil {
		s.metrics.RejectionsTotal.WithLabelValues(rejectReason(err), sourceAPI).Inc()
		return nil, err
	}

	s.metrics.TransitionsTotal.WithLabelValues(string(current.Status), string(updated.Status), sourceAPI).Inc()
	s.logger.Info("Item transitioned",
		zap.Uint("item_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)))
	s.invalidate()
	return updated, nil
}

func (s *ItemService) invalidate() {
	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}
}
