package models

import (
	"time"
)

// ErrorLog 错误日志表
type ErrorLog struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Level      string     `gorm:"size:20;not null;index" json:"level"`   // ERROR, WARN, INFO
	Source     string     `gorm:"size:100;not null;index" json:"source"` // trigger, reschedule
	ItemID     *uint      `gorm:"index" json:"item_id"`                  // 相关的内容ID
	Title      string     `gorm:"size:500;not null" json:"title"`
	Message    string     `gorm:"type:text;not null" json:"message"`
	Context    string     `gorm:"type:jsonb" json:"context"` // 额外上下文信息
	Resolved   bool       `gorm:"default:false;index" json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Item *ContentItem `gorm:"foreignKey:ItemID" json:"item,omitempty"`
}
