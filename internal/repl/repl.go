// Package repl is the interactive operator console. It talks to a running
// notekeeper server over HTTP.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/notexe/notekeeper/internal/client"
	"github.com/notexe/notekeeper/internal/config"
	"github.com/notexe/notekeeper/internal/httpapi"
	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/reminder"
	"github.com/notexe/notekeeper/internal/ui"
)

type REPL struct {
	client    *client.Client
	config    *config.Config
	rl        *readline.Instance
	formatter *ui.Formatter
	spinner   *ui.Spinner
	out       io.Writer
	owner     string
	now       func() time.Time

	// pickStatus asks the user for a status when /status has none.
	pickStatus func(current reminder.Status) (string, error)
}

func NewREPL(c *client.Client, cfg *config.Config) (*REPL, error) {
	r := newREPL(c, cfg, os.Stdout)
	rl, err := setupReadline(r.formatter.FormatPrompt(r.owner), cfg.Console.HistoryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to setup readline: %w", err)
	}
	r.rl = rl
	r.spinner = ui.NewSpinner(cfg.Console.ColoredOutput && ui.IsTerminal())
	return r, nil
}

func newREPL(c *client.Client, cfg *config.Config, out io.Writer) *REPL {
	formatter := ui.NewFormatter(cfg.Console.ColoredOutput)
	return &REPL{
		client:    c,
		config:    cfg,
		formatter: formatter,
		out:       out,
		owner:     cfg.Console.OwnerID,
		now:       time.Now,
		pickStatus: func(current reminder.Status) (string, error) {
			return ui.NewStatusSelector(current, cfg.Console.ColoredOutput).Run()
		},
	}
}

func (r *REPL) Start(ctx context.Context) error {
	defer r.rl.Close()

	r.displayWelcome()
	if err := r.client.Health(ctx); err != nil {
		r.displayError(fmt.Errorf("server at %s is not responding: %w", r.client.BaseURL(), err))
	}

	for {
		input, err := r.readInput()
		if err != nil {
			if isEOF(err) {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		if input == "" {
			continue
		}

		isCommand, command, args := parseCommand(input)
		if !isCommand {
			r.displayInfo("Commands start with /. Type /help for the list.")
			continue
		}
		if command == "/quit" || command == "/exit" || command == "/q" {
			fmt.Fprintln(r.out, "\nGoodbye!")
			return nil
		}

		if err := r.handleCommand(ctx, command, args); err != nil {
			r.displayError(err)
		}
	}
}

func (r *REPL) Stop() {
	if r.rl != nil {
		r.rl.Close()
	}
}

// wait runs fn behind the spinner.
func (r *REPL) wait(msg string, fn func() error) error {
	if r.spinner == nil {
		return fn()
	}
	r.spinner.Start(msg)
	defer r.spinner.Stop()
	return fn()
}

func (r *REPL) handleCommand(ctx context.Context, command, args string) error {
	switch command {
	case "/help", "/h":
		r.displayHelp()
		return nil
	case "/list", "/ls":
		return r.cmdList(ctx, args)
	case "/find":
		if args == "" {
			return errors.New("usage: /find <text>")
		}
		return r.list(ctx, client.ListParams{OwnerID: r.owner, Search: args})
	case "/show":
		return r.cmdShow(ctx, args)
	case "/add", "/a":
		return r.cmdAdd(ctx, args)
	case "/contact":
		return r.cmdContact(ctx, args)
	case "/channel":
		return r.cmdChannel(ctx, args)
	case "/due":
		return r.cmdDue(ctx, args)
	case "/done":
		return r.cmdStatus(ctx, strings.TrimSpace(args)+" "+string(reminder.StatusCompleted))
	case "/status":
		return r.cmdStatus(ctx, args)
	case "/notify":
		return r.cmdNotify(ctx, args)
	case "/schedule":
		return r.cmdSchedule(ctx, args, true)
	case "/unschedule":
		return r.cmdSchedule(ctx, args, false)
	case "/delete", "/rm":
		return r.cmdDelete(ctx, args)
	case "/sweep":
		return r.cmdSweep(ctx, args)
	case "/inbox":
		return r.cmdInbox(ctx)
	case "/owner":
		return r.cmdOwner(args)
	default:
		return fmt.Errorf("unknown command: %s (type /help for available commands)", command)
	}
}

func (r *REPL) cmdList(ctx context.Context, args string) error {
	p := client.ListParams{OwnerID: r.owner}
	if args != "" {
		status := reminder.Status(strings.ToLower(args))
		if !status.Valid() {
			return fmt.Errorf("unknown status %q (pending, completed, missed)", args)
		}
		p.Status = status
	}
	return r.list(ctx, p)
}

func (r *REPL) list(ctx context.Context, p client.ListParams) error {
	var views []httpapi.ReminderView
	err := r.wait("Loading reminders...", func() error {
		var err error
		views, err = r.client.List(ctx, p)
		return err
	})
	if err != nil {
		return err
	}
	r.println(r.formatter.FormatReminderList(views))
	return nil
}

func (r *REPL) cmdShow(ctx context.Context, args string) error {
	id, err := r.resolveID(ctx, args, "/show <id>")
	if err != nil {
		return err
	}
	v, err := r.client.Get(ctx, id)
	if err != nil {
		return err
	}
	r.println(r.formatter.FormatReminder(v))
	return nil
}

func (r *REPL) cmdAdd(ctx context.Context, args string) error {
	const usage = "usage: /add <due> | <title> [| <body>] [| <channel>]"
	if r.owner == "" {
		return errors.New("no owner selected; use /owner <id> first")
	}

	parts := splitFields(args)
	if len(parts) < 2 || len(parts) > 4 {
		return errors.New(usage)
	}
	due, err := parseDue(parts[0], r.now(), r.config.Location())
	if err != nil {
		return err
	}

	d := reminder.Draft{
		OwnerID: r.owner,
		Title:   parts[1],
		Body:    parts[1],
		DueAt:   due,
	}
	if len(parts) > 2 && parts[2] != "" {
		d.Body = parts[2]
	}
	if len(parts) > 3 {
		d.Channel = reminder.Channel(strings.ToLower(parts[3]))
	}

	v, err := r.client.Create(ctx, d)
	if err != nil {
		return err
	}
	r.displaySuccess(fmt.Sprintf("Added %s (%s)", v.ID, v.Status))
	return nil
}

func (r *REPL) cmdContact(ctx context.Context, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return errors.New("usage: /contact <id> <phone|email>")
	}
	id, err := r.resolveID(ctx, fields[0], "")
	if err != nil {
		return err
	}

	value := fields[1]
	var p reminder.Patch
	if strings.Contains(value, "@") {
		p.EmailAddress = &value
	} else {
		p.PhoneNumber = &value
	}
	if _, err := r.client.Update(ctx, id, p); err != nil {
		return err
	}
	r.displaySuccess("Contact updated")
	return nil
}

func (r *REPL) cmdChannel(ctx context.Context, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return errors.New("usage: /channel <id> <none|sms|email|both|browser>")
	}
	id, err := r.resolveID(ctx, fields[0], "")
	if err != nil {
		return err
	}
	ch := reminder.Channel(strings.ToLower(fields[1]))
	v, err := r.client.Update(ctx, id, reminder.Patch{Channel: &ch})
	if err != nil {
		return err
	}
	r.displaySuccess(fmt.Sprintf("Channel set to %s", v.Channel))
	return nil
}

func (r *REPL) cmdDue(ctx context.Context, args string) error {
	id, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	if rest == "" {
		return errors.New("usage: /due <id> <due>")
	}
	id, err := r.resolveID(ctx, id, "")
	if err != nil {
		return err
	}
	due, err := parseDue(rest, r.now(), r.config.Location())
	if err != nil {
		return err
	}
	v, err := r.client.Update(ctx, id, reminder.Patch{DueAt: &due})
	if err != nil {
		return err
	}
	r.displaySuccess(fmt.Sprintf("Due time moved; reminder is %s", v.Status))
	return nil
}

func (r *REPL) cmdStatus(ctx context.Context, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return errors.New("usage: /status <id> [pending|completed|missed]")
	}
	id, err := r.resolveID(ctx, fields[0], "")
	if err != nil {
		return err
	}

	var status string
	if len(fields) == 2 {
		status = fields[1]
	} else {
		current, err := r.client.Get(ctx, id)
		if err != nil {
			return err
		}
		status, err = r.pickStatus(current.Status)
		if err != nil {
			return err
		}
	}

	v, err := r.client.SetStatus(ctx, id, reminder.Status(strings.ToLower(status)))
	if err != nil {
		return err
	}
	r.displaySuccess(fmt.Sprintf("%q marked as %s", v.Title, v.Status))
	return nil
}

func (r *REPL) cmdNotify(ctx context.Context, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return errors.New("usage: /notify <id> [sms|email|both|browser]")
	}
	id, err := r.resolveID(ctx, fields[0], "")
	if err != nil {
		return err
	}
	var channel reminder.Channel
	if len(fields) == 2 {
		channel = reminder.Channel(strings.ToLower(fields[1]))
	}

	var report lifecycle.DispatchReport
	err = r.wait("Sending...", func() error {
		var err error
		report, err = r.client.Notify(ctx, id, channel)
		return err
	})
	if len(report.Outcomes) > 0 {
		r.println(r.formatter.FormatDispatchReport(report))
	}
	return err
}

func (r *REPL) cmdSchedule(ctx context.Context, args string, schedule bool) error {
	id, err := r.resolveID(ctx, args, "/schedule <id>")
	if err != nil {
		return err
	}
	if !schedule {
		if _, err := r.client.CancelSchedule(ctx, id); err != nil {
			return err
		}
		r.displaySuccess("Scheduled delivery cancelled")
		return nil
	}

	v, err := r.client.Schedule(ctx, id)
	if err != nil {
		return err
	}
	if v.DispatchHandle == "" {
		r.displayInfo("Nothing to schedule; the reminder will go out with the regular dispatch check.")
		return nil
	}
	r.displaySuccess("Scheduled as " + v.DispatchHandle)
	return nil
}

func (r *REPL) cmdDelete(ctx context.Context, args string) error {
	id, err := r.resolveID(ctx, args, "/delete <id>")
	if err != nil {
		return err
	}
	if err := r.client.Delete(ctx, id); err != nil {
		return err
	}
	r.displaySuccess("Deleted " + id)
	return nil
}

func (r *REPL) cmdSweep(ctx context.Context, args string) error {
	sweep := strings.ToLower(strings.TrimSpace(args))
	switch sweep {
	case lifecycle.SweepMissed, lifecycle.SweepCompleted, lifecycle.SweepDispatch:
	default:
		return errors.New("usage: /sweep missed|completed|dispatch")
	}

	var res lifecycle.SweepResult
	err := r.wait("Running "+sweep+" sweep...", func() error {
		var err error
		res, err = r.client.Trigger(ctx, sweep)
		return err
	})
	if res.Sweep != "" {
		r.println(r.formatter.FormatSweepResult(res))
	}
	return err
}

func (r *REPL) cmdInbox(ctx context.Context) error {
	if r.owner == "" {
		return errors.New("no owner selected; use /owner <id> first")
	}
	ns, err := r.client.Notifications(ctx, r.owner)
	if err != nil {
		return err
	}
	r.println(r.formatter.FormatNotifications(ns))
	return nil
}

func (r *REPL) cmdOwner(args string) error {
	if args == "" {
		if r.owner == "" {
			r.displayInfo("No owner selected; listings show every owner.")
		} else {
			r.displayInfo("Current owner: " + r.owner)
		}
		return nil
	}
	r.owner = strings.TrimSpace(args)
	if r.rl != nil {
		r.rl.SetPrompt(r.formatter.FormatPrompt(r.owner))
	}
	r.displaySystem("Switched to owner " + r.owner)
	return nil
}

// resolveID accepts a full id or a unique prefix of one from the current
// owner's reminders.
func (r *REPL) resolveID(ctx context.Context, arg, usage string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" || strings.ContainsAny(arg, " \t") {
		if usage == "" {
			return "", errors.New("missing reminder id")
		}
		return "", errors.New("usage: " + usage)
	}

	views, err := r.client.List(ctx, client.ListParams{OwnerID: r.owner})
	if err != nil {
		return "", err
	}
	var match string
	for _, v := range views {
		if v.ID == arg {
			return arg, nil
		}
		if strings.HasPrefix(v.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", arg)
			}
			match = v.ID
		}
	}
	if match == "" {
		// Let the server decide; it may belong to another owner.
		return arg, nil
	}
	return match, nil
}
