package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().UTC()})
}

func (s *Server) handleList(c *gin.Context) {
	filter := reminder.ListFilter{
		OwnerID: c.Query("ownerId"),
		Status:  reminder.Status(c.Query("status")),
		Search:  c.Query("search"),
	}
	if raw := c.Query("automated"); raw != "" {
		automated, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "automated must be true or false")
			return
		}
		filter.Automated = &automated
	}

	rs, err := s.engine.List(c.Request.Context(), filter)
	if err != nil {
		s.abort(c, "list", err)
		return
	}
	ok(c, http.StatusOK, viewsOf(rs, s.now()), "")
}

func (s *Server) handleCreate(c *gin.Context) {
	var d reminder.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	r, err := s.engine.Create(c.Request.Context(), d)
	if err != nil {
		s.abort(c, "create", err)
		return
	}
	ok(c, http.StatusCreated, viewOf(r, s.now()), "reminder created")
}

func (s *Server) handleGet(c *gin.Context) {
	r, err := s.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, "get", err)
		return
	}
	ok(c, http.StatusOK, viewOf(r, s.now()), "")
}

func (s *Server) handleUpdate(c *gin.Context) {
	var p reminder.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	r, err := s.engine.Update(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		s.abort(c, "update", err)
		return
	}
	ok(c, http.StatusOK, viewOf(r, s.now()), "reminder updated")
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.abort(c, "delete", err)
		return
	}
	ok(c, http.StatusOK, nil, "reminder deleted")
}

type statusRequest struct {
	Status reminder.Status `json:"status" binding:"required"`
}

func (s *Server) handleSetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	r, err := s.engine.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.abort(c, "set status", err)
		return
	}
	ok(c, http.StatusOK, viewOf(r, s.now()), "reminder marked as "+string(r.Status))
}

// handleNotify sends the reminder now. It fails with 502 only when every
// attempted channel failed.
func (s *Server) handleNotify(c *gin.Context) {
	override := reminder.Channel(c.Query("channel"))

	report, err := s.engine.NotifyNow(c.Request.Context(), c.Param("id"), override)
	if err != nil {
		s.abort(c, "notify", err)
		return
	}
	if !report.Succeeded() {
		c.JSON(http.StatusBadGateway, Response{
			Success: false,
			Data:    report,
			Error:   "notification failed on every channel",
		})
		return
	}
	ok(c, http.StatusOK, report, "notification sent")
}

func (s *Server) handleSchedule(c *gin.Context) {
	r, err := s.engine.Schedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, "schedule", err)
		return
	}
	ok(c, http.StatusOK, viewOf(r, s.now()), "delivery scheduled")
}

func (s *Server) handleCancelSchedule(c *gin.Context) {
	r, err := s.engine.CancelSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, "cancel schedule", err)
		return
	}
	ok(c, http.StatusOK, viewOf(r, s.now()), "scheduled delivery cancelled")
}

func (s *Server) handleNotifications(c *gin.Context) {
	if s.inbox == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "browser notifications are not configured"})
		return
	}
	owner := c.Query("ownerId")
	if owner == "" {
		badRequest(c, "ownerId is required")
		return
	}

	ns, err := s.inbox.Pull(c.Request.Context(), owner)
	if err != nil {
		s.abort(c, "notifications", err)
		return
	}
	if ns == nil {
		ns = []notify.Notification{}
	}
	ok(c, http.StatusOK, ns, "")
}

func (s *Server) handleTrigger(sweep func(context.Context) (lifecycle.SweepResult, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := sweep(c.Request.Context())
		if err != nil {
			s.log.Error("manual sweep failed", "sweep", res.Sweep, "error", err)
			c.JSON(http.StatusInternalServerError, Response{Success: false, Data: res, Error: err.Error()})
			return
		}
		ok(c, http.StatusOK, res, res.Sweep+" sweep finished")
	}
}
