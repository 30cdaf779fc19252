// Package notify delivers reminder notifications over SMS, email and a
// browser inbox, and sends operator alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Channel names used in handles, receipts and metrics.
const (
	ChannelSMS     = "sms"
	ChannelEmail   = "email"
	ChannelBrowser = "browser"
)

var (
	// ErrChannelUnavailable means the channel is not configured.
	ErrChannelUnavailable = errors.New("notification channel unavailable")

	// ErrDeliveryRejected means the provider refused the message, e.g.
	// an invalid recipient or bad credentials.
	ErrDeliveryRejected = errors.New("notification rejected")

	// ErrTransientFailure covers network errors, timeouts and provider
	// throttling. Callers do not retry within the same pass.
	ErrTransientFailure = errors.New("transient notification failure")
)

func rejected(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDeliveryRejected, fmt.Sprintf(format, args...))
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransientFailure, err)
}

// Message is the channel-neutral content of a reminder notification.
type Message struct {
	ReminderID string
	Title      string
	Body       string
	DueAt      time.Time
}

// Receipt describes an accepted send.
type Receipt struct {
	Channel string
	Ref     string
	Status  string
}

// Sender delivers a message immediately.
type Sender interface {
	Channel() string
	Send(ctx context.Context, target string, msg Message) (Receipt, error)
}

// SchedulingSender can also defer delivery to the provider.
type SchedulingSender interface {
	Sender
	ScheduleAt(ctx context.Context, target string, msg Message, when time.Time) (string, error)
	Cancel(ctx context.Context, ref string) error
}

// Formatter renders due times for humans.
type Formatter struct {
	Location *time.Location
	Layout   string
}

// DefaultFormatter renders in UTC.
func DefaultFormatter() Formatter {
	return Formatter{Location: time.UTC, Layout: "Mon, Jan 2 2006 at 3:04 PM MST"}
}

func (f Formatter) Due(t time.Time) string {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	layout := f.Layout
	if layout == "" {
		layout = time.RFC1123
	}
	return t.In(loc).Format(layout)
}

// Handle identifies an externally scheduled send and the channel that
// owns it, so it can be cancelled after the reminder's channel changes.
type Handle struct {
	Channel string
	Ref     string
}

func (h Handle) String() string {
	if h.Ref == "" {
		return ""
	}
	return h.Channel + ":" + h.Ref
}

// ParseHandle splits a stored handle. An empty string yields a zero Handle.
func ParseHandle(s string) (Handle, error) {
	if s == "" {
		return Handle{}, nil
	}
	channel, ref, ok := strings.Cut(s, ":")
	if !ok || channel == "" || ref == "" {
		return Handle{}, fmt.Errorf("malformed dispatch handle %q", s)
	}
	return Handle{Channel: channel, Ref: ref}, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
