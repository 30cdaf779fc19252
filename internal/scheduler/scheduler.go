// Package scheduler runs the reminder reconciliation passes on two fixed
// cadences.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/notexe/notekeeper/internal/lifecycle"
)

// Reconciler is the set of passes the scheduler drives.
type Reconciler interface {
	DispatchDue(ctx context.Context) (lifecycle.SweepResult, error)
	SweepMissed(ctx context.Context) (lifecycle.SweepResult, error)
	SweepCompleted(ctx context.Context) (lifecycle.SweepResult, error)
}

// Alerter receives a summary of cycles that had failures.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

const (
	CycleDispatch = "dispatch"
	CycleStatus   = "status"
)

type Config struct {
	// DispatchInterval drives the dispatch check followed by the
	// completion sweep.
	DispatchInterval time.Duration
	// StatusInterval drives the missed sweep followed by the completion
	// sweep.
	StatusInterval time.Duration
	// RunOnStart runs both cycles once immediately.
	RunOnStart bool
}

func DefaultConfig() Config {
	return Config{
		DispatchInterval: 15 * time.Minute,
		StatusInterval:   time.Hour,
		RunOnStart:       true,
	}
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithAlerter(a Alerter) Option {
	return func(s *Scheduler) { s.alerter = a }
}

// Scheduler runs periodic reconciliation. Cycles never overlap.
type Scheduler struct {
	rec     Reconciler
	cfg     Config
	log     *slog.Logger
	alerter Alerter

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	cycleMu sync.Mutex
}

func New(rec Reconciler, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		rec:  rec,
		cfg:  cfg,
		log:  slog.Default(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches both cadences in the background. It returns an error if
// the scheduler is already running or an interval is not positive.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.DispatchInterval <= 0 || s.cfg.StatusInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive, got dispatch=%s status=%s",
			s.cfg.DispatchInterval, s.cfg.StatusInterval)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.log.Info("scheduler started",
		"dispatch_interval", s.cfg.DispatchInterval.String(),
		"status_interval", s.cfg.StatusInterval.String(),
	)

	s.wg.Add(2)
	go s.loop(ctx, done, s.cfg.DispatchInterval, func(ctx context.Context) { _, _ = s.RunDispatchCycle(ctx) })
	go s.loop(ctx, done, s.cfg.StatusInterval, func(ctx context.Context) { _, _ = s.RunStatusCycle(ctx) })
	return nil
}

// Stop signals both loops and waits for an in-flight cycle to finish.
// Safe to call multiple times.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.log.Info("scheduler stopping")
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunDispatchCycle runs the dispatch check, then the completion sweep.
func (s *Scheduler) RunDispatchCycle(ctx context.Context) ([]lifecycle.SweepResult, error) {
	return s.runCycle(ctx, CycleDispatch, s.rec.DispatchDue, s.rec.SweepCompleted)
}

// RunStatusCycle runs the missed sweep, then the completion sweep.
func (s *Scheduler) RunStatusCycle(ctx context.Context) ([]lifecycle.SweepResult, error) {
	return s.runCycle(ctx, CycleStatus, s.rec.SweepMissed, s.rec.SweepCompleted)
}

func (s *Scheduler) loop(ctx context.Context, done <-chan struct{}, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		run(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

type pass func(context.Context) (lifecycle.SweepResult, error)

// runCycle runs each pass in order. A failing pass is logged and does
// not prevent the next one.
func (s *Scheduler) runCycle(ctx context.Context, cycle string, passes ...pass) ([]lifecycle.SweepResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	started := time.Now()
	results := make([]lifecycle.SweepResult, 0, len(passes))
	var errs []error

	for _, p := range passes {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := p(ctx)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
			s.log.Error("sweep failed", "cycle", cycle, "sweep", res.Sweep, "error", err)
		}
	}

	err := errors.Join(errs...)
	s.log.Info("cycle finished", "cycle", cycle, "passes", len(results), "duration", time.Since(started).String())

	if text := alertText(cycle, results, err); text != "" && s.alerter != nil {
		if aerr := s.alerter.Alert(ctx, text); aerr != nil {
			s.log.Warn("alert delivery failed", "cycle", cycle, "error", aerr)
		}
	}
	return results, err
}

const maxAlertErrors = 5

// alertText renders a Telegram HTML summary, or "" when the cycle was clean.
func alertText(cycle string, results []lifecycle.SweepResult, err error) string {
	failed := err != nil
	for _, r := range results {
		failed = failed || r.HasFailures()
	}
	if !failed {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Reminder %s cycle had failures</b>\n", html.EscapeString(cycle))
	for _, r := range results {
		fmt.Fprintf(&b, "\n<b>%s</b>: found %d, applied %d, failed %d, delivery failures %d\n",
			html.EscapeString(r.Sweep), r.Found, r.Applied, r.Failed, r.DeliveryFailures)
		for i, e := range r.Errors {
			if i == maxAlertErrors {
				fmt.Fprintf(&b, "• <i>%d more</i>\n", len(r.Errors)-maxAlertErrors)
				break
			}
			fmt.Fprintf(&b, "• <code>%s</code> %s %s\n",
				html.EscapeString(e.ReminderID), html.EscapeString(e.Channel), html.EscapeString(e.Error))
		}
	}
	if err != nil {
		fmt.Fprintf(&b, "\n<b>error</b>: %s\n", html.EscapeString(err.Error()))
	}
	return b.String()
}
