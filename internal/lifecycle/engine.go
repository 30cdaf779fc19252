// Package lifecycle owns reminder state transitions and notification
// dispatch rules. Every status change, whether made by a user or by a
// reconciliation pass, goes through the Engine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/notexe/notekeeper/internal/metrics"
	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
)

// Store is the persistence contract the engine relies on.
type Store interface {
	Add(ctx context.Context, r reminder.Reminder) (*reminder.Reminder, error)
	Get(ctx context.Context, id string) (*reminder.Reminder, error)
	List(ctx context.Context, f reminder.ListFilter) ([]reminder.Reminder, error)
	Update(ctx context.Context, id string, fields reminder.UpdateFields) (*reminder.Reminder, error)
	Delete(ctx context.Context, id string) error
	FindPending(ctx context.Context, before time.Time) ([]reminder.Reminder, error)
	FindDueForDispatch(ctx context.Context, now time.Time, window time.Duration) ([]reminder.Reminder, error)
	FindCompletable(ctx context.Context, now time.Time) ([]reminder.Reminder, error)
	UpdateStatus(ctx context.Context, id string, expected reminder.Status, ch reminder.StatusChange) error
	MarkNotificationSent(ctx context.Context, id string) error
	SetDispatchHandle(ctx context.Context, id, handle string) error
}

// Channels are the delivery adapters. Any of them may be nil, which makes
// that channel unavailable.
type Channels struct {
	SMS     notify.SchedulingSender
	Email   notify.Sender
	Browser notify.SchedulingSender
}

// Config tunes the engine's dispatch timing.
type Config struct {
	// DispatchWindow is how far ahead the dispatch check looks.
	DispatchWindow time.Duration
	// SMSScheduleLead is the minimum time before the due moment at which
	// an SMS is handed to the carrier for scheduled delivery. Reminders
	// due sooner are sent by the dispatch check.
	SMSScheduleLead time.Duration
}

// DefaultConfig returns a 15 minute dispatch window and SMS lead time.
func DefaultConfig() Config {
	return Config{
		DispatchWindow:  15 * time.Minute,
		SMSScheduleLead: 15 * time.Minute,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics collector. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithIDGenerator sets the reminder ID generator.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// Engine owns reminder status transitions and notification dispatch.
type Engine struct {
	store   Store
	ch      Channels
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// New creates an Engine over a store and its delivery adapters.
func New(store Store, ch Channels, cfg Config, opts ...Option) *Engine {
	if cfg.DispatchWindow <= 0 {
		cfg.DispatchWindow = DefaultConfig().DispatchWindow
	}
	e := &Engine{
		store: store,
		ch:    ch,
		cfg:   cfg,
		now:   time.Now,
		log:   slog.Default(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// Create validates and stores a new reminder. A reminder already past
// due starts as missed. Pending SMS and browser reminders are handed to
// their adapter for scheduled delivery; a scheduling failure is logged
// and left to the dispatch check.
func (e *Engine) Create(ctx context.Context, d reminder.Draft) (*reminder.Reminder, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	now := e.clock()
	r := reminder.Reminder{
		ID:           e.newID(),
		OwnerID:      d.OwnerID,
		Title:        d.Title,
		Body:         d.Body,
		DueAt:        d.DueAt,
		Status:       reminder.InitialStatus(d.DueAt, now),
		Channel:      d.Channel,
		PhoneNumber:  d.PhoneNumber,
		EmailAddress: d.EmailAddress,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := e.store.Add(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create reminder: %w", err)
	}

	if created.Status == reminder.StatusPending {
		if err := e.scheduleDispatch(ctx, created, false); err != nil {
			e.log.Warn("reminder scheduling failed", "reminder_id", created.ID, "channel", created.Channel, "error", err)
		}
	}
	return created, nil
}

// Get returns a reminder by ID.
func (e *Engine) Get(ctx context.Context, id string) (*reminder.Reminder, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) List(ctx context.Context, f reminder.ListFilter) ([]reminder.Reminder, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &reminder.ValidationError{Field: "status", Message: "must be one of pending, completed, missed"}
	}
	return e.store.List(ctx, f)
}

// Update applies a patch. The merged reminder is validated as a whole.
// Moving the due time recomputes the status and clears the notification
// flag. Changing what is delivered, or where or when, replaces any
// provider-side delivery.
func (e *Engine) Update(ctx context.Context, id string, p reminder.Patch) (*reminder.Reminder, error) {
	current, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Empty() {
		return current, nil
	}

	merged := reminder.DraftOf(current).Merge(p).Normalize()
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	fields := reminder.UpdateFields{
		Title:        &merged.Title,
		Body:         &merged.Body,
		Channel:      &merged.Channel,
		PhoneNumber:  &merged.PhoneNumber,
		EmailAddress: &merged.EmailAddress,
	}
	now := e.clock()
	if !merged.DueAt.Equal(current.DueAt) {
		fields.DueAt = &merged.DueAt
		sent := false
		fields.NotificationSent = &sent
		if status := reminder.InitialStatus(merged.DueAt, now); status != current.Status {
			fields.Status = &status
			fields.StatusChangedAt = &now
			fields.ClearCompletedAt = current.Status == reminder.StatusCompleted
		}
	}

	updated, err := e.store.Update(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update reminder: %w", err)
	}
	if deliveryChanged(current, updated) {
		e.replaceDispatch(ctx, current, updated, now)
	}
	return updated, nil
}

// deliveryChanged reports whether an edit touches anything a scheduled
// delivery was built from.
func deliveryChanged(before, after *reminder.Reminder) bool {
	return !before.DueAt.Equal(after.DueAt) ||
		before.Channel != after.Channel ||
		before.PhoneNumber != after.PhoneNumber ||
		before.EmailAddress != after.EmailAddress ||
		before.Title != after.Title ||
		before.Body != after.Body
}

// replaceDispatch swaps the provider-side delivery of an edited reminder.
// The old handle is kept when its cancellation fails, so a later cancel
// can still reach it. A delivery that was deferred to the provider and
// cannot be rescheduled goes back to the dispatch check.
func (e *Engine) replaceDispatch(ctx context.Context, before, r *reminder.Reminder, now time.Time) {
	deferred := before.DispatchHandle != "" && r.NotificationSent
	if before.DispatchHandle != "" {
		if before.DueAt.Before(now) {
			// The provider already delivered it.
			if err := e.clearHandle(ctx, r); err != nil {
				e.log.Warn("clearing delivered dispatch handle failed", "reminder_id", r.ID, "error", err)
			}
			deferred = false
		} else if err := e.cancelHandle(ctx, r); err != nil {
			e.log.Warn("keeping scheduled dispatch; cancel failed", "reminder_id", r.ID, "handle", r.DispatchHandle, "error", err)
			return
		}
	}

	if r.Status != reminder.StatusPending || r.DueAt.Before(now) {
		return
	}
	if r.NotificationSent && !deferred {
		return
	}

	if err := e.scheduleDispatch(ctx, r, deferred); err != nil {
		e.log.Warn("reminder rescheduling failed", "reminder_id", r.ID, "channel", r.Channel, "error", err)
	}
	if deferred && r.DispatchHandle == "" {
		sent := false
		if _, err := e.store.Update(ctx, r.ID, reminder.UpdateFields{NotificationSent: &sent}); err != nil {
			e.log.Warn("releasing deferred notification failed", "reminder_id", r.ID, "error", err)
			return
		}
		r.NotificationSent = false
	}
}

// Delete cancels any provider-side delivery, then removes the reminder.
func (e *Engine) Delete(ctx context.Context, id string) error {
	current, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.DispatchHandle != "" {
		if err := e.cancelHandle(ctx, current); err != nil {
			e.log.Warn("cancel of scheduled dispatch failed", "reminder_id", id, "error", err)
		}
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	return nil
}

// SetStatus is a manual status override. It clears the automation flag,
// stamps the change time, sets or clears the completion time and
// cancels provider-side delivery when leaving pending.
func (e *Engine) SetStatus(ctx context.Context, id string, status reminder.Status) (*reminder.Reminder, error) {
	if !status.Valid() {
		return nil, &reminder.ValidationError{Field: "status", Message: "must be one of pending, completed, missed"}
	}

	current, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	change := reminder.StatusChange{Status: status, Automated: false, ChangedAt: now}
	if status == reminder.StatusCompleted {
		change.CompletedAt = &now
	}

	if err := e.store.UpdateStatus(ctx, id, current.Status, change); err != nil {
		return nil, err
	}

	updated, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case status != reminder.StatusPending && updated.DispatchHandle != "":
		if err := e.cancelHandle(ctx, updated); err != nil {
			e.log.Warn("cancel of scheduled dispatch failed", "reminder_id", id, "error", err)
		}
	case status == reminder.StatusPending && updated.DispatchHandle == "" &&
		!updated.NotificationSent && !updated.DueAt.Before(now):
		if err := e.scheduleDispatch(ctx, updated, false); err != nil {
			e.log.Warn("reminder scheduling failed", "reminder_id", id, "error", err)
		}
	}
	return updated, nil
}

// NotifyNow sends the reminder immediately over its channel, or over
// override when given. It does not touch the notification flag.
func (e *Engine) NotifyNow(ctx context.Context, id string, override reminder.Channel) (DispatchReport, error) {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return DispatchReport{}, err
	}

	if override != "" {
		d := reminder.DraftOf(r)
		d.Channel = override
		if err := d.Validate(); err != nil {
			return DispatchReport{}, err
		}
		r.Channel = override
	}
	if r.Channel == reminder.ChannelNone {
		return DispatchReport{}, &reminder.ValidationError{Field: "channel", Message: "reminder has no notification channel"}
	}

	report := e.dispatch(ctx, r, false)
	for _, o := range report.Outcomes {
		if o.Err != nil {
			e.log.Warn("notification failed", "reminder_id", id, "channel", o.Channel, "error", o.Err)
		}
	}
	return report, nil
}

// Schedule (re)hands a pending reminder to its channel for delivery at
// the due time. A past-due reminder is marked missed instead.
func (e *Engine) Schedule(ctx context.Context, id string) (*reminder.Reminder, error) {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != reminder.StatusPending {
		return nil, &reminder.ValidationError{Field: "status", Message: "only pending reminders can be scheduled"}
	}
	if !r.Channel.IncludesSMS() && !r.Channel.IncludesBrowser() {
		return nil, &reminder.ValidationError{Field: "channel", Message: "channel does not support scheduled delivery"}
	}

	now := e.clock()
	if r.DueAt.Before(now) {
		err := e.store.UpdateStatus(ctx, id, reminder.StatusPending, reminder.StatusChange{
			Status: reminder.StatusMissed, Automated: false, ChangedAt: now,
		})
		if err != nil && !errors.Is(err, reminder.ErrStatusConflict) {
			return nil, err
		}
		return nil, &reminder.ValidationError{Field: "dueAt", Message: "reminder date is in the past"}
	}

	if r.DispatchHandle != "" {
		if err := e.cancelHandle(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to cancel previous schedule: %w", err)
		}
	}
	if err := e.scheduleDispatch(ctx, r, true); err != nil {
		return nil, err
	}
	return e.store.Get(ctx, id)
}

// CancelSchedule cancels provider-side delivery. It is a no-op when
// nothing is scheduled.
func (e *Engine) CancelSchedule(ctx context.Context, id string) (*reminder.Reminder, error) {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.DispatchHandle == "" {
		return r, nil
	}
	if err := e.cancelHandle(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}
