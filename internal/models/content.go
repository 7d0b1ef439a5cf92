package models

import (
	"time"

	"gorm.io/gorm"
)

// Status is the lifecycle state of a content item.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublished:
		return true
	}
	return false
}

func ParseStatus(v string) (Status, bool) {
	s := Status(v)
	return s, s.Valid()
}

type ContentItem struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Title        string         `gorm:"not null;size:500" json:"title"`
	Slug         string         `gorm:"size:100;index" json:"slug"`
	Category     string         `gorm:"size:100;index" json:"category"`
	OrderHint    *int           `json:"order_hint"`
	Status       Status         `gorm:"size:20;not null;default:'draft';index" json:"status"`
	ScheduledFor *time.Time     `gorm:"index" json:"scheduled_for"`
	PublishedAt  *time.Time     `gorm:"index" json:"published_at"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// RelevantDate is the timestamp that places the item on the calendar:
// scheduled_for for scheduled items, published_at for published ones.
// Drafts have none.
func (c *ContentItem) RelevantDate() *time.Time {
	switch c.Status {
	case StatusScheduled:
		return c.ScheduledFor
	case StatusPublished:
		return c.PublishedAt
	}
	return nil
}
