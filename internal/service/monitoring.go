package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/cadence/internal/models"
)

// ErrErrorLogNotFound is returned when resolving an unknown or already
// resolved entry.
var ErrErrorLogNotFound = errors.New("error log not found or already resolved")

// ErrorRecorder persists operational failures for the admin panel.
type ErrorRecorder interface {
	RecordError(level, source, title, message string, options ...ErrorLogOption) error
}

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

// RecordError 记录错误日志
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}
	if errorLog.Context == "" {
		errorLog.Context = "{}"
	}

	return m.db.Create(errorLog).Error
}

// ErrorLogOption 错误日志选项
type ErrorLogOption func(*models.ErrorLog)

func WithItem(itemID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ItemID = &itemID
	}
}

// WithContext 设置上下文信息
func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = string(contextBytes)
		}
	}
}

// GetRecentErrors 获取最近的错误日志
func (m *MonitoringService) GetRecentErrors(limit int, includeResolved bool) ([]models.ErrorLog, error) {
	var logs []models.ErrorLog
	q := m.db.Preload("Item").Order("created_at desc").Limit(limit)
	if !includeResolved {
		q = q.Where("resolved = ?", false)
	}
	err := q.Find(&logs).Error
	return logs, err
}

func (m *MonitoringService) ResolveError(id uint) error {
	now := time.Now()
	res := m.db.Model(&models.ErrorLog{}).Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to resolve error %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrErrorLogNotFound, id)
	}
	return nil
}

// CleanupOldData 清理已解决的旧错误日志
func (m *MonitoringService) CleanupOldData(daysToKeep int) error {
	cutoffDate := time.Now().AddDate(0, 0, -daysToKeep)

	res := m.db.Where("created_at < ? AND resolved = ?", cutoffDate, true).Delete(&models.ErrorLog{})
	if res.Error != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		m.logger.Info("Cleaned up resolved error logs", zap.Int64("count", res.RowsAffected))
	}

	return nil
}
