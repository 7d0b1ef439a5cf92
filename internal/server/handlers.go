package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ifuryst/cadence/internal/calendar"
	"github.com/ifuryst/cadence/internal/lifecycle"
	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service"
)

type loginRequest struct {
	Code string `json:"code" binding:"required"`
}

type createItemRequest struct {
	Title     string `json:"title" binding:"required"`
	Category  string `json:"category"`
	OrderHint *int   `json:"order_hint"`
}

type transitionRequest struct {
	To string     `json:"to" binding:"required"`
	At *time.Time `json:"at"`
}

type proposeRequest struct {
	ItemID     uint   `json:"item_id" binding:"required"`
	TargetDate string `json:"target_date" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code is required")
		return
	}

	token, ok := s.Auth.Login(req.Code)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Invalid code"})
		return
	}

	maxAge := 0
	if ttl, err := time.ParseDuration(s.Config.Auth.SessionTTL); err == nil {
		maxAge = int(ttl.Seconds())
	}
	c.SetCookie(service.SessionCookie, token, maxAge, "/", "", s.Config.Server.CertFile != "", true)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleListItems(c *gin.Context) {
	var statuses []models.Status
	if raw := c.Query("status"); raw != "" {
		for _, v := range strings.Split(raw, ",") {
			st, ok := models.ParseStatus(strings.TrimSpace(v))
			if !ok {
				badRequest(c, "unknown status: "+v)
				return
			}
			statuses = append(statuses, st)
		}
	}

	items, err := s.Items.List(c.Request.Context(), statuses...)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleCreateItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "title is required")
		return
	}

	item, err := s.Items.CreateDraft(c.Request.Context(), req.Title, req.Category, req.OrderHint)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) handleGetItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	item, err := s.Items.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleItemHistory(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	events, err := s.Items.History(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleTransition(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid transition request: "+err.Error())
		return
	}

	var t lifecycle.Transition
	switch to, _ := models.ParseStatus(req.To); to {
	case models.StatusScheduled:
		if req.At == nil {
			badRequest(c, "at is required when scheduling")
			return
		}
		t = lifecycle.Schedule(*req.At)
	case models.StatusDraft:
		t = lifecycle.Unschedule()
	case models.StatusPublished:
		t = lifecycle.Publish()
	default:
		badRequest(c, "unknown status: "+req.To)
		return
	}

	item, err := s.Items.Transition(c.Request.Context(), id, t)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// handleCalendar defaults to four weeks starting today.
func (s *Server) handleCalendar(c *gin.Context) {
	loc := s.Calendar.Location()

	start := calendar.DayOf(time.Now(), loc)
	if v := c.Query("start"); v != "" {
		d, err := calendar.ParseDate(v, loc)
		if err != nil {
			badRequest(c, "start must be YYYY-MM-DD")
			return
		}
		start = d
	}
	end := start.AddDate(0, 0, 27)
	if v := c.Query("end"); v != "" {
		d, err := calendar.ParseDate(v, loc)
		if err != nil {
			badRequest(c, "end must be YYYY-MM-DD")
			return
		}
		end = d
	}

	view, err := s.Calendar.View(c.Request.Context(), start, end)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handlePropose(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "item_id and target_date are required")
		return
	}
	target, err := calendar.ParseDate(req.TargetDate, s.Calendar.Location())
	if err != nil {
		badRequest(c, "target_date must be YYYY-MM-DD")
		return
	}

	p, err := s.Reschedule.Propose(c.Request.Context(), req.ItemID, target)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"noop": true})
		return
	}

	token, expires := s.pending.Put(p)
	c.JSON(http.StatusCreated, gin.H{
		"token":      token,
		"pending":    p,
		"expires_at": expires,
	})
}

func (s *Server) handleConfirm(c *gin.Context) {
	p, ok := s.pending.Take(c.Param("token"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": codeProposalNotFound, "message": "Proposal not found or expired"})
		return
	}

	item, err := s.Reschedule.Confirm(c.Request.Context(), p)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleCancel(c *gin.Context) {
	if p, ok := s.pending.Take(c.Param("token")); ok {
		s.Reschedule.Cancel(p)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePublishDue(c *gin.Context) {
	report, err := s.Publisher.PublishDue(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListErrors(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	includeResolved := c.Query("include_resolved") == "true"

	logs, err := s.Errors.GetRecentErrors(limit, includeResolved)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": logs})
}

func (s *Server) handleResolveError(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	if err := s.Errors.ResolveError(id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func itemID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}
