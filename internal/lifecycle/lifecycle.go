package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/ifuryst/cadence/internal/models"
)

var (
	ErrInvalidScheduleTime   = errors.New("schedule time must be in the future")
	ErrUnsupportedTransition = errors.New("unsupported transition")
	ErrInvariantViolation    = errors.New("item violates status/date invariant")
)

// Transition is a requested move to a target status. At is only meaningful
// when To is scheduled.
type Transition struct {
	To models.Status
	At time.Time
}

func Schedule(at time.Time) Transition { return Transition{To: models.StatusScheduled, At: at} }

func Unschedule() Transition { return Transition{To: models.StatusDraft} }

func Publish() Transition { return Transition{To: models.StatusPublished} }

func (t Transition) String() string {
	if t.To == models.StatusScheduled {
		return fmt.Sprintf("-> %s(%s)", t.To, t.At.Format(time.RFC3339))
	}
	return "-> " + string(t.To)
}

// Apply computes the snapshot that results from applying t to item at now.
// It never mutates item and performs no I/O; on error the returned snapshot
// is the unchanged input.
func Apply(item models.ContentItem, t Transition, now time.Time) (models.ContentItem, error) {
	if err := Validate(item); err != nil {
		return item, err
	}

	next := item
	switch {
	case t.To == models.StatusScheduled && (item.Status == models.StatusDraft || item.Status == models.StatusScheduled):
		if !t.At.After(now) {
			return item, fmt.Errorf("%w: %s is not after %s", ErrInvalidScheduleTime,
				t.At.Format(time.RFC3339), now.Format(time.RFC3339))
		}
		at := t.At
		next.Status = models.StatusScheduled
		next.ScheduledFor = &at
		next.PublishedAt = nil

	case t.To == models.StatusDraft && item.Status == models.StatusScheduled:
		next.Status = models.StatusDraft
		next.ScheduledFor = nil
		next.PublishedAt = nil

	case t.To == models.StatusPublished && (item.Status == models.StatusDraft || item.Status == models.StatusScheduled):
		stamp := now
		next.Status = models.StatusPublished
		next.PublishedAt = &stamp
		next.ScheduledFor = nil

	default:
		return item, fmt.Errorf("%w: %s %s", ErrUnsupportedTransition, item.Status, t)
	}

	return next, nil
}

// Validate checks that the item's dates agree with its status.
func Validate(item models.ContentItem) error {
	hasScheduled := item.ScheduledFor != nil
	hasPublished := item.PublishedAt != nil

	var ok bool
	switch item.Status {
	case models.StatusDraft:
		ok = !hasScheduled && !hasPublished
	case models.StatusScheduled:
		ok = hasScheduled && !hasPublished
	case models.StatusPublished:
		ok = hasPublished && !hasScheduled
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvariantViolation, item.Status)
	}
	if !ok {
		return fmt.Errorf("%w: item %d is %s with scheduled_for=%t published_at=%t",
			ErrInvariantViolation, item.ID, item.Status, hasScheduled, hasPublished)
	}
	return nil
}
