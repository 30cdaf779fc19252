package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/notexe/notekeeper/internal/httpapi"
	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
)

var (
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")). // Coral red
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")) // Warm yellow

	SystemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("183")). // Soft purple
			Italic(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")). // Green
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")). // Yellow
			Bold(true)

	AccentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("147")) // Light purple
)

// statusStyles colours a reminder status.
var statusStyles = map[reminder.Status]lipgloss.Style{
	reminder.StatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("81")),
	reminder.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
	reminder.StatusMissed:    lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
}

// IsTerminal reports whether stdout is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type Formatter struct {
	colored bool
	loc     *time.Location
}

// NewFormatter returns a formatter. Colour is only used when requested
// and stdout is a terminal.
func NewFormatter(colored bool) *Formatter {
	return &Formatter{colored: colored && IsTerminal(), loc: time.Local}
}

func (f *Formatter) render(style lipgloss.Style, s string) string {
	if f.colored {
		return style.Render(s)
	}
	return s
}

func (f *Formatter) FormatError(err error) string {
	return f.render(ErrorStyle, "Error: ") + err.Error()
}

func (f *Formatter) FormatInfo(info string) string {
	return f.render(InfoStyle, info)
}

func (f *Formatter) FormatSystem(msg string) string {
	return f.render(SystemStyle, msg)
}

func (f *Formatter) FormatSuccess(msg string) string {
	return f.render(SuccessStyle, "✓ ") + msg
}

func (f *Formatter) FormatPrompt(owner string) string {
	if owner == "" {
		owner = "all"
	}
	return f.render(lipgloss.NewStyle().Foreground(lipgloss.Color("62")), owner) +
		f.render(lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true), " > ")
}

func (f *Formatter) FormatWelcome(serverURL, owner string) string {
	if owner == "" {
		owner = "(all owners)"
	}
	lines := []string{
		f.render(HeaderStyle, "Notekeeper console"),
		f.render(DimStyle, "Server: ") + serverURL,
		f.render(DimStyle, "Owner:  ") + owner,
		"",
		f.render(DimStyle, "Type /help for commands"),
	}
	body := strings.Join(lines, "\n")
	if !f.colored {
		return "\n" + body + "\n\n"
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1)
	return "\n" + box.Render(body) + "\n\n"
}

const helpMarkdown = `# Commands

| Command | Description |
|---|---|
| ` + "`/list [status]`" + ` | List reminders, optionally by status |
| ` + "`/find <text>`" + ` | Search titles and bodies |
| ` + "`/show <id>`" + ` | Show one reminder |
| ` + "`/add <due> \\| <title> [\\| <body>] [\\| <channel>]`" + ` | Add a reminder; due is RFC3339, ` + "`2006-01-02 15:04`" + ` or ` + "`+30m`" + ` |
| ` + "`/due <id> <due>`" + ` | Move the due time |
| ` + "`/channel <id> <channel>`" + ` | none, sms, email, both or browser |
| ` + "`/contact <id> <phone\\|email>`" + ` | Set the SMS number or email address |
| ` + "`/done <id>`" + ` | Mark completed |
| ` + "`/status <id> [status]`" + ` | Set status; pick interactively when omitted |
| ` + "`/notify <id> [channel]`" + ` | Send the notification now |
| ` + "`/schedule <id>`" + ` / ` + "`/unschedule <id>`" + ` | Hand delivery to the provider, or cancel it |
| ` + "`/delete <id>`" + ` | Delete a reminder |
| ` + "`/sweep missed\\|completed\\|dispatch`" + ` | Run a reconciliation pass |
| ` + "`/inbox`" + ` | Pull due browser notifications |
| ` + "`/owner [id]`" + ` | Show or switch the current owner |
| ` + "`/quit`" + ` | Exit |

Ctrl+C or Ctrl+D also exits.
`

// FormatHelp renders the command reference.
func (f *Formatter) FormatHelp() string {
	if !f.colored {
		return helpMarkdown
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return helpMarkdown
	}
	rendered, err := renderer.Render(helpMarkdown)
	if err != nil {
		return helpMarkdown
	}
	return rendered
}

func (f *Formatter) formatStatus(r *httpapi.ReminderView) string {
	label := string(r.Status)
	if r.IsOverdue {
		label = "overdue"
	}
	style, ok := statusStyles[r.Status]
	if r.IsOverdue {
		style, ok = WarningStyle, true
	}
	if !ok {
		return label
	}
	return f.render(style, label)
}

func (f *Formatter) formatTime(t time.Time) string {
	return t.In(f.loc).Format("2006-01-02 15:04")
}

// FormatReminderList renders one line per reminder.
func (f *Formatter) FormatReminderList(rs []httpapi.ReminderView) string {
	if len(rs) == 0 {
		return f.FormatInfo("No reminders found.")
	}

	var b strings.Builder
	for i := range rs {
		r := &rs[i]
		flags := string(r.Channel)
		if r.NotificationSent {
			flags += ", notified"
		}
		fmt.Fprintf(&b, "%s  %s  %-9s %s %s\n",
			f.render(DimStyle, shortID(r.ID)),
			f.formatTime(r.DueAt),
			f.formatStatus(r),
			r.Title,
			f.render(DimStyle, "("+flags+")"),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatReminder renders every field of one reminder.
func (f *Formatter) FormatReminder(r *httpapi.ReminderView) string {
	label := func(s string) string { return f.render(DimStyle, fmt.Sprintf("%-14s", s)) }

	lines := []string{
		f.render(HeaderStyle, r.Title),
		r.Body,
		"",
		label("id") + r.ID,
		label("owner") + r.OwnerID,
		label("due") + f.formatTime(r.DueAt),
		label("status") + f.formatStatus(r),
	}
	if r.StatusChangedAt != nil {
		how := "manually"
		if r.StatusAutomated {
			how = "automatically"
		}
		lines = append(lines, label("changed")+f.formatTime(*r.StatusChangedAt)+" "+f.render(DimStyle, how))
	}
	if r.CompletedAt != nil {
		lines = append(lines, label("completed")+f.formatTime(*r.CompletedAt))
	}
	lines = append(lines, label("channel")+string(r.Channel))
	if r.PhoneNumber != "" {
		lines = append(lines, label("phone")+r.PhoneNumber)
	}
	if r.EmailAddress != "" {
		lines = append(lines, label("email")+r.EmailAddress)
	}
	lines = append(lines, label("notified")+fmt.Sprintf("%t", r.NotificationSent))
	if r.DispatchHandle != "" {
		lines = append(lines, label("scheduled")+r.DispatchHandle)
	}
	return strings.Join(lines, "\n")
}

// FormatSweepResult summarises a reconciliation pass.
func (f *Formatter) FormatSweepResult(res lifecycle.SweepResult) string {
	summary := fmt.Sprintf("%s: found %d, applied %d, skipped %d, failed %d",
		res.Sweep, res.Found, res.Applied, res.Skipped, res.Failed)
	if res.DeliveryFailures > 0 {
		summary += fmt.Sprintf(", delivery failures %d", res.DeliveryFailures)
	}

	lines := []string{f.render(AccentStyle, summary)}
	for _, e := range res.Errors {
		channel := e.Channel
		if channel == "" {
			channel = "store"
		}
		lines = append(lines, "  "+f.render(DimStyle, shortID(e.ReminderID)+" "+channel+": ")+e.Error)
	}
	return strings.Join(lines, "\n")
}

// FormatDispatchReport renders per-channel outcomes of a manual send.
func (f *Formatter) FormatDispatchReport(report lifecycle.DispatchReport) string {
	if len(report.Outcomes) == 0 {
		return f.FormatInfo("No channel was attempted.")
	}
	lines := make([]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		switch {
		case o.Error != "":
			lines = append(lines, f.render(ErrorStyle, "✗ ")+o.Channel+": "+o.Error)
		case o.Deferred:
			lines = append(lines, f.render(InfoStyle, "… ")+o.Channel+": already scheduled")
		default:
			lines = append(lines, f.FormatSuccess(o.Channel+" sent"))
		}
	}
	return strings.Join(lines, "\n")
}

// FormatNotifications renders pulled browser notifications.
func (f *Formatter) FormatNotifications(ns []notify.Notification) string {
	if len(ns) == 0 {
		return f.FormatInfo("No notifications due.")
	}
	var b strings.Builder
	for _, n := range ns {
		fmt.Fprintf(&b, "%s %s\n  %s\n  %s\n",
			f.render(WarningStyle, "🔔"),
			f.render(HeaderStyle, n.Title),
			n.Body,
			f.render(DimStyle, "due "+n.Due),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

// shortID keeps listings narrow; commands accept the full id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
