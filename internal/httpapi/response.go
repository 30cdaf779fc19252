package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/notexe/notekeeper/internal/reminder"
)

// Response is the envelope every API route replies with.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReminderView adds derived fields to a stored reminder.
type ReminderView struct {
	reminder.Reminder
	IsOverdue bool `json:"isOverdue"`
}

func viewOf(r *reminder.Reminder, now time.Time) ReminderView {
	return ReminderView{Reminder: *r, IsOverdue: r.Overdue(now)}
}

func viewsOf(rs []reminder.Reminder, now time.Time) []ReminderView {
	out := make([]ReminderView, len(rs))
	for i := range rs {
		out[i] = viewOf(&rs[i], now)
	}
	return out
}

func ok(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Response{Success: true, Data: data, Message: message})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: message})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *reminder.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, reminder.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reminder.ErrStatusConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// abort writes err with its mapped status.
func (s *Server) abort(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "op", op, "path", c.Request.URL.Path, "error", err)
	}
	fail(c, status, err)
}
