package models

import (
	"time"
)

// TransitionEvent records one committed status change of a content item.
type TransitionEvent struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	ItemID       uint       `gorm:"not null;index" json:"item_id"`
	FromStatus   Status     `gorm:"size:20;not null" json:"from_status"`
	ToStatus     Status     `gorm:"size:20;not null" json:"to_status"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	PublishedAt  *time.Time `json:"published_at"`
	Source       string     `gorm:"size:50;not null;index" json:"source"` // api, reschedule, trigger
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
