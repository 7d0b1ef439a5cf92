package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ifuryst/cadence/internal/models"
)

// memStore is an in-memory ContentStore with the same conditional-update
// contract as GormStore.
type memStore struct {
	mu      sync.Mutex
	items   map[uint]models.ContentItem
	events  []models.TransitionEvent
	nextID  uint
	listErr error
	// updateErr forces Update to fail for an item id.
	updateErr map[uint]error
	updates   int
}

func newMemStore(items ...models.ContentItem) *memStore {
	s := &memStore{items: map[uint]models.ContentItem{}, updateErr: map[uint]error{}}
	for _, it := range items {
		s.items[it.ID] = it
		if it.ID > s.nextID {
			s.nextID = it.ID
		}
	}
	return s
}

func (s *memStore) Get(ctx context.Context, id uint) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	return &it, nil
}

func (s *memStore) List(ctx context.Context, f ItemFilter) ([]models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.ContentItem
	for _, it := range s.items {
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, it.Status) {
			continue
		}
		if f.DueAt != nil && (it.Status != models.StatusScheduled || it.ScheduledFor.After(*f.DueAt)) {
			continue
		}
		if w := f.Window; w != nil && it.Status != models.StatusDraft {
			at := it.RelevantDate()
			if at == nil || at.Before(w.From) || !at.Before(w.To) {
				continue
			}
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Update(ctx context.Context, id uint, expected models.Status, patch ItemPatch) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErr[id]; err != nil {
		return nil, err
	}
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	if it.Status != expected {
		return nil, fmt.Errorf("%w: item %d is no longer %s", ErrStaleItemState, id, expected)
	}
	it.Status = patch.Status
	it.ScheduledFor = patch.ScheduledFor
	it.PublishedAt = patch.PublishedAt
	s.items[id] = it
	s.updates++
	s.events = append(s.events, models.TransitionEvent{
		ID: uint(len(s.events) + 1), ItemID: id, FromStatus: expected, ToStatus: patch.Status,
		ScheduledFor: patch.ScheduledFor, PublishedAt: patch.PublishedAt, Source: patch.Source,
	})
	return &it, nil
}

func (s *memStore) Create(ctx context.Context, item *models.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.ID = s.nextID
	s.items[item.ID] = *item
	return nil
}

func (s *memStore) History(ctx context.Context, id uint) ([]models.TransitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TransitionEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ItemID == id {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// set overwrites an item as an external writer would.
func (s *memStore) set(it models.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it
}

func (s *memStore) remove(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

func containsStatus(list []models.Status, s models.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type countingInvalidator struct {
	mu    sync.Mutex
	count int
}

func (c *countingInvalidator) Invalidate() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *countingInvalidator) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func tp(t time.Time) *time.Time { return &t }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
