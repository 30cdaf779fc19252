package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
)

// ChannelOutcome is the result of one adapter call within a dispatch.
type ChannelOutcome struct {
	Channel string `json:"channel"`
	Ref     string `json:"ref,omitempty"`
	// Deferred is set when delivery was already scheduled with the
	// provider, so no call was made.
	Deferred bool   `json:"deferred,omitempty"`
	Error    string `json:"error,omitempty"`
	Err      error  `json:"-"`
}

// DispatchReport collects the per-channel outcomes for one reminder.
type DispatchReport struct {
	ReminderID string           `json:"reminderId"`
	Outcomes   []ChannelOutcome `json:"outcomes"`
}

// Succeeded reports whether at least one channel delivered (or had
// delivery scheduled).
func (r DispatchReport) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Err == nil && o.Error == "" {
			return true
		}
	}
	return false
}

// Failures returns the outcomes that ended in an error.
func (r DispatchReport) Failures() []ChannelOutcome {
	var out []ChannelOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

func messageFor(r *reminder.Reminder) notify.Message {
	return notify.Message{
		ReminderID: r.ID,
		Title:      r.Title,
		Body:       r.Body,
		DueAt:      r.DueAt,
	}
}

// dispatch invokes every adapter the reminder's channel names. Channels
// are attempted independently; one failing never stops the other. When
// due is set, channels whose delivery is already scheduled with the
// provider are not called again.
func (e *Engine) dispatch(ctx context.Context, r *reminder.Reminder, due bool) DispatchReport {
	report := DispatchReport{ReminderID: r.ID}
	msg := messageFor(r)

	var scheduled notify.Handle
	if due {
		scheduled, _ = notify.ParseHandle(r.DispatchHandle)
	}

	send := func(channel string, s notify.Sender, target string) {
		if scheduled.Channel == channel && scheduled.Ref != "" {
			report.Outcomes = append(report.Outcomes, ChannelOutcome{Channel: channel, Ref: scheduled.Ref, Deferred: true})
			e.metrics.ObserveNotification(channel, "scheduled")
			return
		}

		var (
			receipt notify.Receipt
			err     error
		)
		if s == nil {
			err = fmt.Errorf("%w: %s adapter not configured", notify.ErrChannelUnavailable, channel)
		} else {
			receipt, err = s.Send(ctx, target, msg)
		}

		o := ChannelOutcome{Channel: channel, Ref: receipt.Ref, Err: err}
		if err != nil {
			o.Error = err.Error()
		}
		report.Outcomes = append(report.Outcomes, o)
		e.metrics.ObserveNotification(channel, outcomeLabel(err))
	}

	if r.Channel.IncludesSMS() {
		send(notify.ChannelSMS, senderOrNil(e.ch.SMS), r.PhoneNumber)
	}
	if r.Channel.IncludesEmail() {
		send(notify.ChannelEmail, e.ch.Email, r.EmailAddress)
	}
	if r.Channel.IncludesBrowser() {
		send(notify.ChannelBrowser, senderOrNil(e.ch.Browser), r.OwnerID)
	}
	return report
}

// senderOrNil avoids wrapping a nil SchedulingSender in a non-nil Sender.
func senderOrNil(s notify.SchedulingSender) notify.Sender {
	if s == nil {
		return nil
	}
	return s
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, notify.ErrChannelUnavailable):
		return "unavailable"
	case errors.Is(err, notify.ErrDeliveryRejected):
		return "rejected"
	case errors.Is(err, notify.ErrTransientFailure):
		return "transient"
	}
	return "error"
}

func (e *Engine) schedulerFor(channel string) notify.SchedulingSender {
	switch channel {
	case notify.ChannelSMS:
		return e.ch.SMS
	case notify.ChannelBrowser:
		return e.ch.Browser
	}
	return nil
}

// scheduleDispatch hands a pending reminder to the SMS or browser adapter
// for delivery at its due time and stores the handle. Unless explicit,
// SMS reminders due within the carrier lead time are skipped.
func (e *Engine) scheduleDispatch(ctx context.Context, r *reminder.Reminder, explicit bool) error {
	var (
		channel string
		target  string
	)
	switch {
	case r.Channel.IncludesSMS():
		if !explicit && r.DueAt.Sub(e.clock()) < e.cfg.SMSScheduleLead {
			return nil
		}
		channel, target = notify.ChannelSMS, r.PhoneNumber
	case r.Channel.IncludesBrowser():
		channel, target = notify.ChannelBrowser, r.OwnerID
	default:
		return nil
	}

	s := e.schedulerFor(channel)
	if s == nil {
		err := fmt.Errorf("%w: %s adapter not configured", notify.ErrChannelUnavailable, channel)
		if explicit {
			return err
		}
		e.log.Debug("scheduled delivery skipped", "reminder_id", r.ID, "channel", channel, "error", err)
		return nil
	}

	ref, err := s.ScheduleAt(ctx, target, messageFor(r), r.DueAt)
	if err != nil {
		e.metrics.ObserveNotification(channel, outcomeLabel(err))
		return fmt.Errorf("failed to schedule %s delivery: %w", channel, err)
	}
	e.metrics.ObserveNotification(channel, "scheduled")

	handle := notify.Handle{Channel: channel, Ref: ref}.String()
	if err := e.store.SetDispatchHandle(ctx, r.ID, handle); err != nil {
		return fmt.Errorf("failed to store dispatch handle: %w", err)
	}
	r.DispatchHandle = handle
	return nil
}

// cancelHandle cancels the reminder's scheduled delivery with whichever
// adapter created it, then clears the stored handle.
func (e *Engine) cancelHandle(ctx context.Context, r *reminder.Reminder) error {
	h, err := notify.ParseHandle(r.DispatchHandle)
	if err != nil {
		e.log.Warn("dropping malformed dispatch handle", "reminder_id", r.ID, "handle", r.DispatchHandle)
		return e.clearHandle(ctx, r)
	}
	if h.Ref == "" {
		return nil
	}

	s := e.schedulerFor(h.Channel)
	if s == nil {
		return fmt.Errorf("%w: cannot cancel %s delivery", notify.ErrChannelUnavailable, h.Channel)
	}
	if err := s.Cancel(ctx, h.Ref); err != nil {
		return fmt.Errorf("failed to cancel %s delivery: %w", h.Channel, err)
	}
	return e.clearHandle(ctx, r)
}

func (e *Engine) clearHandle(ctx context.Context, r *reminder.Reminder) error {
	if err := e.store.SetDispatchHandle(ctx, r.ID, ""); err != nil && !errors.Is(err, reminder.ErrNotFound) {
		return fmt.Errorf("failed to clear dispatch handle: %w", err)
	}
	r.DispatchHandle = ""
	return nil
}
