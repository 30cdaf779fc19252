// Package httpapi exposes the reminder engine over HTTP: CRUD, manual
// status and notification actions, browser inbox polling and manual
// sweep triggers.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/metrics"
	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
)

// Engine is the subset of lifecycle.Engine the API drives.
type Engine interface {
	Create(ctx context.Context, d reminder.Draft) (*reminder.Reminder, error)
	Get(ctx context.Context, id string) (*reminder.Reminder, error)
	List(ctx context.Context, f reminder.ListFilter) ([]reminder.Reminder, error)
	Update(ctx context.Context, id string, p reminder.Patch) (*reminder.Reminder, error)
	Delete(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status reminder.Status) (*reminder.Reminder, error)
	NotifyNow(ctx context.Context, id string, override reminder.Channel) (lifecycle.DispatchReport, error)
	Schedule(ctx context.Context, id string) (*reminder.Reminder, error)
	CancelSchedule(ctx context.Context, id string) (*reminder.Reminder, error)

	SweepMissed(ctx context.Context) (lifecycle.SweepResult, error)
	SweepCompleted(ctx context.Context) (lifecycle.SweepResult, error)
	DispatchDue(ctx context.Context) (lifecycle.SweepResult, error)
}

// Inbox is polled by browsers for due notifications.
type Inbox interface {
	Pull(ctx context.Context, ownerID string) ([]notify.Notification, error)
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics records request counts on m and serves g at /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

func WithInbox(in Inbox) Option {
	return func(s *Server) { s.inbox = in }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

type Server struct {
	engine   Engine
	inbox    Inbox
	log      *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	now      func() time.Time
	router   *gin.Engine
}

func New(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	r.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		reminders := v1.Group("/reminders")
		{
			reminders.GET("", s.handleList)
			reminders.POST("", s.handleCreate)
			reminders.GET("/:id", s.handleGet)
			reminders.PUT("/:id", s.handleUpdate)
			reminders.DELETE("/:id", s.handleDelete)
			reminders.PUT("/:id/status", s.handleSetStatus)
			reminders.POST("/:id/notify", s.handleNotify)
			reminders.POST("/:id/schedule", s.handleSchedule)
			reminders.DELETE("/:id/schedule", s.handleCancelSchedule)

			// Manual triggers for the reconciliation passes
			trigger := reminders.Group("/trigger")
			{
				trigger.POST("/missed", s.handleTrigger(s.engine.SweepMissed))
				trigger.POST("/completed", s.handleTrigger(s.engine.SweepCompleted))
				trigger.POST("/dispatch", s.handleTrigger(s.engine.DispatchDue))
			}
		}

		v1.GET("/notifications", s.handleNotifications)
	}
	return r
}

// observe logs each request and counts it by route template.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.ObserveRequest(c.Request.Method, route, strconv.Itoa(status))

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.log.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start).String(),
		)
	}
}
