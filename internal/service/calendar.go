package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/calendar"
)

// CalendarView is an aggregation tagged with the revision it was computed
// at. A client holding an older revision should re-read.
type CalendarView struct {
	calendar.View
	Revision uint64 `json:"revision"`
}

// CalendarService recomputes the calendar from the store on every read.
type CalendarService struct {
	store      ContentStore
	aggregator calendar.Aggregator
	logger     *zap.Logger
	revision   atomic.Uint64
}

func NewCalendarService(store ContentStore, aggregator calendar.Aggregator, logger *zap.Logger) *CalendarService {
	return &CalendarService{
		store:      store,
		aggregator: aggregator,
		logger:     logger,
	}
}

func (s *CalendarService) Location() *time.Location {
	if s.aggregator.Location == nil {
		return time.UTC
	}
	return s.aggregator.Location
}

func (s *CalendarService) View(ctx context.Context, start, end time.Time) (*CalendarView, error) {
	rev := s.revision.Load()

	loc := s.Location()
	from := calendar.DayOf(start, loc)
	// Widen to whole weeks so the padded tail of the final week is filled.
	days := int(calendar.DayOf(end, loc).Sub(from).Hours()/24+0.5) + 1
	if days < 1 {
		days = 1
	}
	to := from.AddDate(0, 0, ((days+6)/7)*7)

	items, err := s.store.List(ctx, ItemFilter{Window: &Window{From: from, To: to}})
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar items: %w", err)
	}

	view, err := s.aggregator.Aggregate(start, end, items)
	if err != nil {
		return nil, err
	}
	if len(view.Invalid) > 0 {
		s.logger.Warn("Calendar skipped items with inconsistent dates", zap.Uints("item_ids", view.Invalid))
	}

	return &CalendarView{View: view, Revision: rev}, nil
}

func (s *CalendarService) Invalidate() {
	rev := s.revision.Add(1)
	s.logger.Debug("Calendar invalidated", zap.Uint64("revision", rev))
}

func (s *CalendarService) Revision() uint64 {
	return s.revision.Load()
}
