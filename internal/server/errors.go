package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/calendar"
	"github.com/ifuryst/cadence/internal/lifecycle"
	"github.com/ifuryst/cadence/internal/service"
)

// Stable machine codes returned in the "error" field.
const (
	codeBadRequest            = "bad_request"
	codeItemNotFound          = "item_not_found"
	codeStaleItemState        = "stale_item_state"
	codeUnsupportedTransition = "unsupported_transition"
	codeInvalidScheduleTime   = "invalid_schedule_time"
	codeInvalidRange          = "invalid_range"
	codeProposalNotFound      = "proposal_not_found"
	codeErrorLogNotFound      = "error_log_not_found"
	codeInternal              = "internal_error"
)

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrItemNotFound):
		return http.StatusNotFound, codeItemNotFound
	case errors.Is(err, service.ErrErrorLogNotFound):
		return http.StatusNotFound, codeErrorLogNotFound
	case errors.Is(err, service.ErrStaleItemState):
		return http.StatusConflict, codeStaleItemState
	case errors.Is(err, lifecycle.ErrUnsupportedTransition):
		return http.StatusUnprocessableEntity, codeUnsupportedTransition
	case errors.Is(err, lifecycle.ErrInvalidScheduleTime):
		return http.StatusUnprocessableEntity, codeInvalidScheduleTime
	case errors.Is(err, calendar.ErrInvalidRange), errors.Is(err, calendar.ErrRangeTooLarge):
		return http.StatusBadRequest, codeInvalidRange
	}
	return http.StatusInternalServerError, codeInternal
}

func (s *Server) respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.Logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": codeBadRequest, "message": message})
}
