package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ifuryst/cadence/internal/lifecycle"
	"github.com/ifuryst/cadence/internal/models"
)

var (
	ErrItemNotFound   = errors.New("content item not found")
	ErrStaleItemState = errors.New("content item changed since it was read")
)

// ItemFilter narrows List. Zero values match everything.
type ItemFilter struct {
	Statuses []models.Status
	// DueAt selects scheduled items whose scheduled_for is at or before it.
	DueAt *time.Time
	// Window selects dated items whose relevant date falls in [From, To)
	// plus every draft.
	Window *Window
}

type Window struct {
	From time.Time
	To   time.Time
}

// ItemPatch is the full lifecycle state written by Update. Nil dates are
// stored as NULL.
type ItemPatch struct {
	Status       models.Status
	ScheduledFor *time.Time
	PublishedAt  *time.Time
	Source       string
}

func PatchFrom(item models.ContentItem, source string) ItemPatch {
	return ItemPatch{
		Status:       item.Status,
		ScheduledFor: item.ScheduledFor,
		PublishedAt:  item.PublishedAt,
		Source:       source,
	}
}

// ContentStore is the persistence boundary of the scheduling core.
type ContentStore interface {
	Get(ctx context.Context, id uint) (*models.ContentItem, error)
	List(ctx context.Context, filter ItemFilter) ([]models.ContentItem, error)
	// Update applies patch only if the stored status still equals expected.
	// It returns ErrStaleItemState when it does not and ErrItemNotFound when
	// the item is gone.
	Update(ctx context.Context, id uint, expected models.Status, patch ItemPatch) (*models.ContentItem, error)
	Create(ctx context.Context, item *models.ContentItem) error
	History(ctx context.Context, id uint) ([]models.TransitionEvent, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, id uint) (*models.ContentItem, error) {
	var item models.ContentItem
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
		}
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	return &item, nil
}

func (s *GormStore) List(ctx context.Context, filter ItemFilter) ([]models.ContentItem, error) {
	q := s.db.WithContext(ctx).Model(&models.ContentItem{})

	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.DueAt != nil {
		q = q.Where("status = ? AND scheduled_for <= ?", models.StatusScheduled, *filter.DueAt)
	}
	if w := filter.Window; w != nil {
		q = q.Where(
			s.db.Where("status = ? AND scheduled_for >= ? AND scheduled_for < ?", models.StatusScheduled, w.From, w.To).
				Or("status = ? AND published_at >= ? AND published_at < ?", models.StatusPublished, w.From, w.To).
				Or("status = ?", models.StatusDraft),
		)
	}

	var items []models.ContentItem
	if err := q.Order("id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

func (s *GormStore) Update(ctx context.Context, id uint, expected models.Status, patch ItemPatch) (*models.ContentItem, error) {
	var updated models.ContentItem

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ContentItem{}).
			Where("id = ? AND status = ?", id, expected).
			Updates(map[string]interface{}{
				"status":        patch.Status,
				"scheduled_for": patch.ScheduledFor,
				"published_at":  patch.PublishedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update item %d: %w", id, res.Error)
		}

		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.ContentItem{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check item %d: %w", id, err)
			}
			if count == 0 {
				return fmt.Errorf("%w: %d", ErrItemNotFound, id)
			}
			return fmt.Errorf("%w: item %d is no longer %s", ErrStaleItemState, id, expected)
		}

		event := models.TransitionEvent{
			ItemID:       id,
			FromStatus:   expected,
			ToStatus:     patch.Status,
			ScheduledFor: patch.ScheduledFor,
			PublishedAt:  patch.PublishedAt,
			Source:       patch.Source,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to record transition for item %d: %w", id, err)
		}

		return tx.First(&updated, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *GormStore) Create(ctx context.Context, item *models.ContentItem) error {
	if item.Status == "" {
		item.Status = models.StatusDraft
	}
	if item.Status != models.StatusDraft {
		return fmt.Errorf("%w: items are created as drafts", lifecycle.ErrUnsupportedTransition)
	}
	if err := lifecycle.Validate(*item); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// History returns the item's transitions, newest first.
func (s *GormStore) History(ctx context.Context, id uint) ([]models.TransitionEvent, error) {
	var events []models.TransitionEvent
	if err := s.db.WithContext(ctx).
		Where("item_id = ?", id).
		Order("created_at desc, id desc").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to get history for item %d: %w", id, err)
	}
	return events, nil
}
