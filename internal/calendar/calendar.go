package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ifuryst/cadence/internal/lifecycle"
	"github.com/ifuryst/cadence/internal/models"
)

const DateLayout = "2006-01-02"

var (
	ErrInvalidRange  = errors.New("calendar range end is before start")
	ErrRangeTooLarge = errors.New("calendar range too large")
)

type Day struct {
	Date  time.Time            `json:"date"`
	Items []models.ContentItem `json:"items"`
}

type Week struct {
	Index     int       `json:"index"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Theme     string    `json:"theme"`
	PostCount int       `json:"post_count"`
	Days      []Day     `json:"days"`
}

// View is one aggregation pass. End is the last day of the final week, which
// may lie past the requested end.
type View struct {
	Start       time.Time            `json:"start"`
	End         time.Time            `json:"end"`
	Weeks       []Week               `json:"weeks"`
	Unscheduled []models.ContentItem `json:"unscheduled"`
	Invalid     []uint               `json:"invalid,omitempty"`
}

func (v View) PostCount() int {
	n := 0
	for _, w := range v.Weeks {
		n += w.PostCount
	}
	return n
}

// Aggregator buckets content items into days and weeks. It holds no state
// between calls.
type Aggregator struct {
	Location *time.Location
	Themes   []string
	MaxWeeks int
}

// Aggregate partitions [start, end] into seven-day windows aligned to start
// and places every dated item inside those windows into its day. Drafts go to
// the unscheduled list; items whose dates disagree with their status are
// reported by id in Invalid and placed nowhere else.
func (a Aggregator) Aggregate(start, end time.Time, items []models.ContentItem) (View, error) {
	loc := a.location()
	first := DayOf(start, loc)
	last := DayOf(end, loc)
	if last.Before(first) {
		return View{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, first.Format(DateLayout), last.Format(DateLayout))
	}

	days := daysBetween(first, last) + 1
	weeks := (days + 6) / 7
	if a.MaxWeeks > 0 && weeks > a.MaxWeeks {
		return View{}, fmt.Errorf("%w: %d weeks requested, limit is %d", ErrRangeTooLarge, weeks, a.MaxWeeks)
	}

	view := View{
		Start:       first,
		End:         first.AddDate(0, 0, weeks*7-1),
		Weeks:       make([]Week, weeks),
		Unscheduled: []models.ContentItem{},
	}
	for w := range view.Weeks {
		ws := first.AddDate(0, 0, w*7)
		week := Week{
			Index: w,
			Start: ws,
			End:   ws.AddDate(0, 0, 6),
			Theme: a.theme(w),
			Days:  make([]Day, 7),
		}
		for d := range week.Days {
			week.Days[d] = Day{Date: ws.AddDate(0, 0, d), Items: []models.ContentItem{}}
		}
		view.Weeks[w] = week
	}

	for _, item := range items {
		if err := lifecycle.Validate(item); err != nil {
			view.Invalid = append(view.Invalid, item.ID)
			continue
		}
		at := item.RelevantDate()
		if at == nil {
			view.Unscheduled = append(view.Unscheduled, item)
			continue
		}
		day := DayOf(*at, loc)
		if day.Before(view.Start) || day.After(view.End) {
			continue
		}
		offset := daysBetween(view.Start, day)
		bucket := &view.Weeks[offset/7].Days[offset%7]
		bucket.Items = append(bucket.Items, item)
	}

	for w := range view.Weeks {
		week := &view.Weeks[w]
		for d := range week.Days {
			SortItems(week.Days[d].Items)
			week.PostCount += len(week.Days[d].Items)
		}
	}
	SortItems(view.Unscheduled)

	return view, nil
}

func (a Aggregator) location() *time.Location {
	if a.Location == nil {
		return time.UTC
	}
	return a.Location
}

func (a Aggregator) theme(index int) string {
	if len(a.Themes) == 0 {
		return fmt.Sprintf("Week %d", index+1)
	}
	return a.Themes[index%len(a.Themes)]
}

// SortItems orders by order hint ascending, items without a hint last, then
// by id.
func SortItems(items []models.ContentItem) {
	sort.SliceStable(items, func(i, j int) bool {
		hi, hj := items[i].OrderHint, items[j].OrderHint
		switch {
		case hi != nil && hj != nil && *hi != *hj:
			return *hi < *hj
		case hi != nil && hj == nil:
			return true
		case hi == nil && hj != nil:
			return false
		}
		return items[i].ID < items[j].ID
	})
}

// DayOf truncates t to midnight of its calendar day in loc.
func DayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from a to b; both must be DayOf values in
// the same location. Rounding absorbs DST shifts.
func daysBetween(a, b time.Time) int {
	return int((b.Sub(a) + 12*time.Hour) / (24 * time.Hour))
}

// ParseDate parses a YYYY-MM-DD date at midnight in loc.
func ParseDate(v string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return d, nil
}
