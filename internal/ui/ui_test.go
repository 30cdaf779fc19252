package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notexe/notekeeper/internal/httpapi"
	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
)

func plain() *Formatter {
	f := NewFormatter(false)
	f.loc = time.UTC
	return f
}

func view(status reminder.Status) httpapi.ReminderView {
	return httpapi.ReminderView{Reminder: reminder.Reminder{
		ID:      "0123456789abcdef",
		OwnerID: "owner-1",
		Title:   "Renew passport",
		Body:    "Book an appointment",
		DueAt:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Status:  status,
		Channel: reminder.ChannelEmail,
	}}
}

func TestFormatReminderList(t *testing.T) {
	f := plain()

	assert.Equal(t, "No reminders found.", f.FormatReminderList(nil))

	overdue := view(reminder.StatusPending)
	overdue.IsOverdue = true
	done := view(reminder.StatusCompleted)
	done.NotificationSent = true

	out := f.FormatReminderList([]httpapi.ReminderView{overdue, done})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "01234567  2026-03-01 09:30  overdue")
	assert.Contains(t, lines[0], "Renew passport (email)")
	assert.Contains(t, lines[1], "completed")
	assert.Contains(t, lines[1], "(email, notified)")
}

func TestFormatReminder(t *testing.T) {
	v := view(reminder.StatusMissed)
	changed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v.StatusChangedAt = &changed
	v.StatusAutomated = true
	v.EmailAddress = "a@example.com"

	out := plain().FormatReminder(&v)
	assert.Contains(t, out, "Renew passport\nBook an appointment")
	assert.Contains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "2026-03-01 10:00 automatically")
	assert.Contains(t, out, "a@example.com")
	assert.NotContains(t, out, "phone")
	assert.NotContains(t, out, "scheduled")
}

func TestFormatSweepResult(t *testing.T) {
	res := lifecycle.SweepResult{
		Sweep: lifecycle.SweepDispatch, Found: 3, Applied: 2, Failed: 1, DeliveryFailures: 1,
		Errors: []lifecycle.RecordError{
			{ReminderID: "0123456789abcdef", Channel: "sms", Error: "carrier rejected"},
			{ReminderID: "fedcba9876543210", Error: "database is locked"},
		},
	}

	out := plain().FormatSweepResult(res)
	assert.Contains(t, out, "dispatch: found 3, applied 2, skipped 0, failed 1, delivery failures 1")
	assert.Contains(t, out, "01234567 sms: carrier rejected")
	assert.Contains(t, out, "fedcba98 store: database is locked")
}

func TestFormatDispatchReport(t *testing.T) {
	f := plain()
	assert.Equal(t, "No channel was attempted.", f.FormatDispatchReport(lifecycle.DispatchReport{}))

	out := f.FormatDispatchReport(lifecycle.DispatchReport{Outcomes: []lifecycle.ChannelOutcome{
		{Channel: "sms", Deferred: true},
		{Channel: "email", Error: "smtp down"},
		{Channel: "browser", Ref: "n1"},
	}})
	assert.Contains(t, out, "sms: already scheduled")
	assert.Contains(t, out, "✗ email: smtp down")
	assert.Contains(t, out, "✓ browser sent")
}

func TestFormatNotifications(t *testing.T) {
	f := plain()
	assert.Equal(t, "No notifications due.", f.FormatNotifications(nil))

	out := f.FormatNotifications([]notify.Notification{{Title: "Standup", Body: "Room 4", Due: "Mar 1, 09:30"}})
	assert.Contains(t, out, "Standup\n  Room 4\n  due Mar 1, 09:30")
}

func TestFormatHelpAndWelcome(t *testing.T) {
	f := plain()
	help := f.FormatHelp()
	for _, cmd := range []string{"/list", "/add", "/sweep", "/inbox", "/quit"} {
		assert.Contains(t, help, cmd)
	}

	welcome := f.FormatWelcome("http://localhost:8080", "")
	assert.Contains(t, welcome, "http://localhost:8080")
	assert.Contains(t, welcome, "(all owners)")

	assert.Equal(t, "Error: boom", f.FormatError(errors.New("boom")))
	assert.Equal(t, "all > ", f.FormatPrompt(""))
}

func TestStatusSelector_Simple(t *testing.T) {
	tests := []struct {
		name    string
		current reminder.Status
		input   string
		want    string
		wantErr bool
	}{
		{"pick by number", reminder.StatusPending, "3\n", "missed", false},
		{"empty keeps current", reminder.StatusCompleted, "\n", "completed", false},
		{"out of range", reminder.StatusPending, "7\n", "", true},
		{"not a number", reminder.StatusPending, "done\n", "", true},
		{"eof", reminder.StatusPending, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := NewStatusSelector(tt.current, false).
				WithIO(strings.NewReader(tt.input), &out).
				Run()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "[1] pending")
		})
	}
}

func TestSpinner(t *testing.T) {
	var out bytes.Buffer
	s := NewSpinner(false)
	s.SetOutput(&out)

	s.Stop() // not running
	s.Start("Loading reminders...")
	assert.True(t, s.Running())
	time.Sleep(200 * time.Millisecond)
	s.Stop()
	assert.False(t, s.Running())

	assert.Contains(t, out.String(), "Loading reminders...")
	assert.True(t, strings.HasSuffix(out.String(), "\r\033[K"))
}
