package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/notexe/notekeeper/internal/metrics"
	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
)

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type sentCall struct {
	Target string
	Msg    notify.Message
}

type scheduledCall struct {
	Target string
	Msg    notify.Message
	When   time.Time
	Ref    string
}

// fakeSender records calls and returns configured errors.
type fakeSender struct {
	channel string

	mu          sync.Mutex
	sent        []sentCall
	scheduled   []scheduledCall
	cancelled   []string
	sendErr     error
	scheduleErr error
	cancelErr   error
	seq         int
}

func newFakeSender(channel string) *fakeSender {
	return &fakeSender{channel: channel}
}

func (f *fakeSender) Channel() string { return f.channel }

func (f *fakeSender) Send(_ context.Context, target string, msg notify.Message) (notify.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCall{Target: target, Msg: msg})
	if f.sendErr != nil {
		return notify.Receipt{}, f.sendErr
	}
	f.seq++
	return notify.Receipt{Channel: f.channel, Ref: fmt.Sprintf("%s-sent-%d", f.channel, f.seq)}, nil
}

func (f *fakeSender) ScheduleAt(_ context.Context, target string, msg notify.Message, when time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.seq++
	ref := fmt.Sprintf("%s-sched-%d", f.channel, f.seq)
	f.scheduled = append(f.scheduled, scheduledCall{Target: target, Msg: msg, When: when, Ref: ref})
	return ref, nil
}

func (f *fakeSender) Cancel(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, ref)
	return nil
}

func (f *fakeSender) sends() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.sent...)
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent) + len(f.scheduled)
}

type fixture struct {
	engine  *Engine
	store   *reminder.Store
	sms     *fakeSender
	email   *fakeSender
	browser *fakeSender
	now     time.Time
}

func newFixture(t *testing.T, wrap ...func(*reminder.Store) Store) *fixture {
	t.Helper()
	f := &fixture{
		now:     baseTime,
		sms:     newFakeSender(notify.ChannelSMS),
		email:   newFakeSender(notify.ChannelEmail),
		browser: newFakeSender(notify.ChannelBrowser),
	}
	clock := func() time.Time { return f.now }

	store, err := reminder.NewStore(filepath.Join(t.TempDir(), "reminders.db"), reminder.WithStoreClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	f.store = store

	var s Store = store
	for _, w := range wrap {
		s = w(store)
	}

	f.engine = New(s, Channels{SMS: f.sms, Email: f.email, Browser: f.browser}, DefaultConfig(),
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) create(t *testing.T, due time.Duration, mutate ...func(*reminder.Draft)) *reminder.Reminder {
	t.Helper()
	d := reminder.Draft{
		OwnerID: "owner-1",
		Title:   "Take medicine",
		Body:    "Two pills after lunch",
		DueAt:   f.now.Add(due),
		Channel: reminder.ChannelNone,
	}
	for _, m := range mutate {
		m(&d)
	}
	r, err := f.engine.Create(context.Background(), d)
	require.NoError(t, err)
	return r
}

func (f *fixture) get(t *testing.T, id string) *reminder.Reminder {
	t.Helper()
	r, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func viaSMS(d *reminder.Draft) {
	d.Channel = reminder.ChannelSMS
	d.PhoneNumber = "+15551234567"
}

func viaEmail(d *reminder.Draft) {
	d.Channel = reminder.ChannelEmail
	d.EmailAddress = "pat@example.com"
}

func viaBoth(d *reminder.Draft) {
	d.Channel = reminder.ChannelBoth
	d.PhoneNumber = "+15551234567"
	d.EmailAddress = "pat@example.com"
}

func viaBrowser(d *reminder.Draft) {
	d.Channel = reminder.ChannelBrowser
}
