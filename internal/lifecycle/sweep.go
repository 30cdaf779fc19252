package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notexe/notekeeper/internal/reminder"
)

const (
	SweepMissed    = "missed"
	SweepCompleted = "completed"
	SweepDispatch  = "dispatch"
)

// RecordError describes a per-reminder failure inside a pass.
type RecordError struct {
	ReminderID string `json:"reminderId"`
	Channel    string `json:"channel,omitempty"`
	Error      string `json:"error"`
}

// SweepResult summarises one reconciliation pass.
type SweepResult struct {
	Sweep   string `json:"sweep"`
	Found   int    `json:"found"`
	Applied int    `json:"applied"`
	// Skipped counts records another writer changed first.
	Skipped int `json:"skipped"`
	// Failed counts records whose write failed; they stay eligible for
	// the next pass.
	Failed int `json:"failed"`
	// DeliveryFailures counts failed adapter calls during dispatch.
	DeliveryFailures int           `json:"deliveryFailures"`
	Errors           []RecordError `json:"errors,omitempty"`
	StartedAt        time.Time     `json:"startedAt"`
	FinishedAt       time.Time     `json:"finishedAt"`
}

func (r SweepResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasFailures reports whether any record or delivery failed.
func (r SweepResult) HasFailures() bool {
	return r.Failed > 0 || r.DeliveryFailures > 0
}

func (r *SweepResult) fail(id, channel string, err error) {
	r.Errors = append(r.Errors, RecordError{ReminderID: id, Channel: channel, Error: err.Error()})
}

// SweepMissed marks pending reminders that are past due and were never
// notified as missed.
func (e *Engine) SweepMissed(ctx context.Context) (SweepResult, error) {
	return e.transitionSweep(ctx, SweepMissed, e.store.FindPending, func(now time.Time) reminder.StatusChange {
		return reminder.StatusChange{Status: reminder.StatusMissed, Automated: true, ChangedAt: now}
	})
}

// SweepCompleted marks pending reminders that were notified and are now
// past due as completed.
func (e *Engine) SweepCompleted(ctx context.Context) (SweepResult, error) {
	return e.transitionSweep(ctx, SweepCompleted, e.store.FindCompletable, func(now time.Time) reminder.StatusChange {
		completed := now
		return reminder.StatusChange{Status: reminder.StatusCompleted, Automated: true, ChangedAt: now, CompletedAt: &completed}
	})
}

type finder func(ctx context.Context, now time.Time) ([]reminder.Reminder, error)

func (e *Engine) transitionSweep(ctx context.Context, name string, find finder, change func(time.Time) reminder.StatusChange) (SweepResult, error) {
	now := e.clock()
	res := SweepResult{Sweep: name, StartedAt: now}

	candidates, err := find(ctx, now)
	if err != nil {
		return e.finish(res), fmt.Errorf("%s sweep query: %w", name, err)
	}
	res.Found = len(candidates)

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return e.finish(res), err
		}
		r := &candidates[i]

		err := e.store.UpdateStatus(ctx, r.ID, reminder.StatusPending, change(now))
		switch {
		case err == nil:
			res.Applied++
			e.log.Debug("reminder status updated", "sweep", name, "reminder_id", r.ID, "status", change(now).Status)
		case errors.Is(err, reminder.ErrStatusConflict), errors.Is(err, reminder.ErrNotFound):
			res.Skipped++
		default:
			res.Failed++
			res.fail(r.ID, "", err)
			e.log.Error("sweep record failed", "sweep", name, "reminder_id", r.ID, "error", err)
		}
	}
	return e.finish(res), nil
}

// DispatchDue sends notifications for pending reminders due within the
// dispatch window. Each reminder is attempted once: the notification flag
// is set after the attempt whatever its outcome.
func (e *Engine) DispatchDue(ctx context.Context) (SweepResult, error) {
	now := e.clock()
	res := SweepResult{Sweep: SweepDispatch, StartedAt: now}

	candidates, err := e.store.FindDueForDispatch(ctx, now, e.cfg.DispatchWindow)
	if err != nil {
		return e.finish(res), fmt.Errorf("dispatch query: %w", err)
	}
	res.Found = len(candidates)

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return e.finish(res), err
		}
		r := &candidates[i]

		report := e.dispatch(ctx, r, true)
		for _, o := range report.Failures() {
			res.DeliveryFailures++
			res.fail(r.ID, o.Channel, o.Err)
			e.log.Warn("notification failed", "sweep", SweepDispatch, "reminder_id", r.ID, "channel", o.Channel, "error", o.Err)
		}

		if err := e.store.MarkNotificationSent(ctx, r.ID); err != nil {
			if errors.Is(err, reminder.ErrNotFound) {
				res.Skipped++
				continue
			}
			res.Failed++
			res.fail(r.ID, "", err)
			e.log.Error("sweep record failed", "sweep", SweepDispatch, "reminder_id", r.ID, "error", err)
			continue
		}
		res.Applied++
	}
	return e.finish(res), nil
}

func (e *Engine) finish(res SweepResult) SweepResult {
	res.FinishedAt = e.clock()
	e.metrics.ObserveSweep(res.Sweep, res.Applied, res.Skipped, res.Failed, res.Duration())
	e.log.Info("sweep finished",
		"sweep", res.Sweep,
		"found", res.Found,
		"applied", res.Applied,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"delivery_failures", res.DeliveryFailures,
		"duration", res.Duration().String(),
	)
	return res
}
