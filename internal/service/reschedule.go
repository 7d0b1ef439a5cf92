package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/calendar"
	"github.com/ifuryst/cadence/internal/lifecycle"
	"github.com/ifuryst/cadence/internal/metrics"
	"github.com/ifuryst/cadence/internal/models"
)

const sourceReschedule = "reschedule"

// Pending is an unpersisted request to move one item to another date. It
// captures what propose observed so confirm can detect concurrent changes.
type Pending struct {
	ItemID     uint          `json:"item_id"`
	Title      string        `json:"title"`
	FromStatus models.Status `json:"from_status"`
	// FromDate is the calendar day the item was on, nil if unscheduled.
	FromDate *time.Time `json:"from_date"`
	ToDate   time.Time  `json:"to_date"`
	// ObservedAt is the item's relevant timestamp when proposed.
	ObservedAt *time.Time `json:"observed_at"`
	// Target is the timestamp confirm will schedule the item for.
	Target     time.Time `json:"target"`
	ProposedAt time.Time `json:"proposed_at"`

	cancelled atomic.Bool
}

type RescheduleService struct {
	store       ContentStore
	logger      *zap.Logger
	metrics     *metrics.Metrics
	invalidator Invalidator
	loc         *time.Location
	hour        int
	minute      int
	Now         func() time.Time
}

type RescheduleOptions struct {
	Location *time.Location
	// Time of day used for items that have no current date.
	DefaultHour   int
	DefaultMinute int
}

func NewRescheduleService(store ContentStore, logger *zap.Logger, m *metrics.Metrics, inv Invalidator, opts RescheduleOptions) *RescheduleService {
	if m == nil {
		m = metrics.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &RescheduleService{
		store:       store,
		logger:      logger,
		metrics:     m,
		invalidator: inv,
		loc:         loc,
		hour:        opts.DefaultHour,
		minute:      opts.DefaultMinute,
		Now:         time.Now,
	}
}

// Propose prepares a move of item id to targetDate. Only the calendar day of
// targetDate is used. It returns nil, nil when the item is already on that
// day. Propose never writes.
func (s *RescheduleService) Propose(ctx context.Context, id uint, targetDate time.Time) (*Pending, error) {
	item, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	to := calendar.DayOf(targetDate, s.loc)
	observed := copyTime(item.RelevantDate())

	var from *time.Time
	if observed != nil {
		d := calendar.DayOf(*observed, s.loc)
		from = &d
		if d.Equal(to) {
			s.metrics.ProposalsTotal.WithLabelValues("noop").Inc()
			s.logger.Debug("Reschedule to same day ignored", zap.Uint("item_id", id), zap.Time("date", to))
			return nil, nil
		}
	}

	p := &Pending{
		ItemID:     item.ID,
		Title:      item.Title,
		FromStatus: item.Status,
		FromDate:   from,
		ToDate:     to,
		ObservedAt: observed,
		Target:     s.targetTime(observed, to),
		ProposedAt: s.Now(),
	}
	s.metrics.ProposalsTotal.WithLabelValues("proposed").Inc()
	return p, nil
}

// Confirm commits p. The item is re-read first and the move aborts with
// ErrStaleItemState if its status or date changed since Propose. The store
// write is conditional on the status, so a concurrent transition still
// loses cleanly.
func (s *RescheduleService) Confirm(ctx context.Context, p *Pending) (*models.ContentItem, error) {
	if p == nil {
		return nil, errors.New("nothing to confirm")
	}
	log := s.logger.With(zap.Uint("item_id", p.ItemID), zap.Time("target", p.Target))

	current, err := s.store.Get(ctx, p.ItemID)
	if err != nil {
		s.reject(log, "not_found", err)
		return nil, err
	}

	if current.Status != p.FromStatus || !sameTime(current.RelevantDate(), p.ObservedAt) {
		err := fmt.Errorf("%w: item %d is %s, proposal expected %s", ErrStaleItemState, p.ItemID, current.Status, p.FromStatus)
		s.reject(log, "stale", err)
		return nil, err
	}

	next, err := lifecycle.Apply(*current, lifecycle.Schedule(p.Target), s.Now())
	if err != nil {
		s.reject(log, rejectReason(err), err)
		return nil, err
	}

	updated, err := s.store.Update(ctx, current.ID, current.Status, PatchFrom(next, sourceReschedule))
	if err != nil {
		s.reject(log, rejectReason(err), err)
		return nil, err
	}

	s.metrics.ProposalsTotal.WithLabelValues("confirmed").Inc()
	s.metrics.TransitionsTotal.WithLabelValues(string(current.Status), string(updated.Status), sourceReschedule).Inc()
	log.Info("Rescheduled item", zap.String("from_status", string(current.Status)), zap.Timep("from", p.ObservedAt))

	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}
	return updated, nil
}

// Cancel discards p. Nothing was written by Propose, so this is always safe
// to call, any number of times; only the first call is counted.
func (s *RescheduleService) Cancel(p *Pending) {
	if p == nil || !p.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.metrics.ProposalsTotal.WithLabelValues("cancelled").Inc()
	s.logger.Debug("Reschedule cancelled", zap.Uint("item_id", p.ItemID))
}

// targetTime keeps the item's current time of day, or the configured
// default when it has none.
func (s *RescheduleService) targetTime(current *time.Time, day time.Time) time.Time {
	h, m, sec := s.hour, s.minute, 0
	if current != nil {
		c := current.In(s.loc)
		h, m, sec = c.Hour(), c.Minute(), c.Second()
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, s.loc)
}

func (s *RescheduleService) reject(log *zap.Logger, reason string, err error) {
	s.metrics.ProposalsTotal.WithLabelValues("rejected").Inc()
	s.metrics.RejectionsTotal.WithLabelValues(reason, sourceReschedule).Inc()
	log.Warn("Reschedule rejected", zap.String("reason", reason), zap.Error(err))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidScheduleTime):
		return "invalid_schedule_time"
	case errors.Is(err, lifecycle.ErrUnsupportedTransition):
		return "unsupported_transition"
	case errors.Is(err, ErrStaleItemState):
		return "stale"
	case errors.Is(err, ErrItemNotFound):
		return "not_found"
	}
	return "error"
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
