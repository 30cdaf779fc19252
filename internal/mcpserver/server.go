// Package mcpserver exposes the reminder engine as MCP tools so that
// assistants and operators can manage reminders and trigger sweeps.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/reminder"
)

const (
	serverName    = "notekeeper"
	serverVersion = "1.0.0"
)

// Engine is the reminder engine surface the tools call.
type Engine interface {
	Create(ctx context.Context, d reminder.Draft) (*reminder.Reminder, error)
	Get(ctx context.Context, id string) (*reminder.Reminder, error)
	List(ctx context.Context, f reminder.ListFilter) ([]reminder.Reminder, error)
	Update(ctx context.Context, id string, p reminder.Patch) (*reminder.Reminder, error)
	Delete(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status reminder.Status) (*reminder.Reminder, error)
	NotifyNow(ctx context.Context, id string, override reminder.Channel) (lifecycle.DispatchReport, error)

	SweepMissed(ctx context.Context) (lifecycle.SweepResult, error)
	SweepCompleted(ctx context.Context) (lifecycle.SweepResult, error)
	DispatchDue(ctx context.Context) (lifecycle.SweepResult, error)
}

// Server is the MCP server for reminder management.
type Server struct {
	mcpServer *server.MCPServer
	engine    Engine
	owner     string
}

// NewServer creates the MCP server. defaultOwner is used when a tool call
// does not name an owner.
func NewServer(engine Engine, defaultOwner string) *Server {
	s := &Server{
		engine: engine,
		owner:  defaultOwner,
	}

	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// add_reminder
	s.mcpServer.AddTool(
		mcp.NewTool("add_reminder",
			mcp.WithDescription("Add a reminder with a title, body and due time. Set a phone number and/or email address to be notified."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Reminder title")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Reminder text")),
			mcp.WithString("due_at", mcp.Required(), mcp.Description("Due time in RFC3339 format (e.g. 2025-01-15T09:00:00Z)")),
			mcp.WithString("owner_id", mcp.Description("Owner of the reminder (defaults to the configured owner)")),
			mcp.WithString("channel", mcp.Description("Notification channel: none, sms, email, both, browser")),
			mcp.WithString("phone_number", mcp.Description("E.164 phone number for SMS")),
			mcp.WithString("email_address", mcp.Description("Email address for email notifications")),
		),
		s.handleAddReminder,
	)

	// list_reminders
	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List reminders ordered by due time, optionally filtered"),
			mcp.WithString("owner_id", mcp.Description("Only reminders of this owner")),
			mcp.WithString("status", mcp.Description("Filter by status: pending, completed, missed")),
			mcp.WithString("search", mcp.Description("Match text in the title or body")),
		),
		s.handleListReminders,
	)

	// get_reminder
	s.mcpServer.AddTool(
		mcp.NewTool("get_reminder",
			mcp.WithDescription("Get a reminder by id"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleGetReminder,
	)

	// update_reminder
	s.mcpServer.AddTool(
		mcp.NewTool("update_reminder",
			mcp.WithDescription("Update a reminder's fields. Moving the due time resets its notification state."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("body", mcp.Description("New text")),
			mcp.WithString("due_at", mcp.Description("New due time in RFC3339 format")),
			mcp.WithString("channel", mcp.Description("New channel: none, sms, email, both, browser")),
			mcp.WithString("phone_number", mcp.Description("New phone number")),
			mcp.WithString("email_address", mcp.Description("New email address")),
		),
		s.handleUpdateReminder,
	)

	// delete_reminder
	s.mcpServer.AddTool(
		mcp.NewTool("delete_reminder",
			mcp.WithDescription("Delete a reminder permanently"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleDeleteReminder,
	)

	// set_reminder_status
	s.mcpServer.AddTool(
		mcp.NewTool("set_reminder_status",
			mcp.WithDescription("Manually set a reminder's status"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithString("status", mcp.Required(), mcp.Description("New status: pending, completed, missed")),
		),
		s.handleSetStatus,
	)

	// notify_reminder
	s.mcpServer.AddTool(
		mcp.NewTool("notify_reminder",
			mcp.WithDescription("Send a reminder's notification right now"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithString("channel", mcp.Description("Override the channel: sms, email, both, browser")),
		),
		s.handleNotify,
	)

	// sweep triggers
	s.mcpServer.AddTool(
		mcp.NewTool("trigger_missed_sweep",
			mcp.WithDescription("Mark past-due pending reminders that were never notified as missed"),
		),
		s.sweepHandler(s.engine.SweepMissed),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("trigger_completion_sweep",
			mcp.WithDescription("Mark past-due pending reminders that were notified as completed"),
		),
		s.sweepHandler(s.engine.SweepCompleted),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("trigger_dispatch_check",
			mcp.WithDescription("Send notifications for pending reminders due in the next dispatch window"),
		),
		s.sweepHandler(s.engine.DispatchDue),
	)
}

func (s *Server) handleAddReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dueAt, err := parseTime(req.GetString("due_at", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d := reminder.Draft{
		OwnerID:      req.GetString("owner_id", s.owner),
		Title:        req.GetString("title", ""),
		Body:         req.GetString("body", ""),
		DueAt:        dueAt,
		Channel:      reminder.Channel(req.GetString("channel", "")),
		PhoneNumber:  req.GetString("phone_number", ""),
		EmailAddress: req.GetString("email_address", ""),
	}

	added, err := s.engine.Create(ctx, d)
	if err != nil {
		return toolError("failed to add reminder", err), nil
	}
	return jsonResult(added), nil
}

func (s *Server) handleListReminders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reminders, err := s.engine.List(ctx, reminder.ListFilter{
		OwnerID: req.GetString("owner_id", ""),
		Status:  reminder.Status(req.GetString("status", "")),
		Search:  req.GetString("search", ""),
	})
	if err != nil {
		return toolError("failed to list reminders", err), nil
	}

	if len(reminders) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}
	return jsonResult(reminders), nil
}

func (s *Server) handleGetReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	r, err := s.engine.Get(ctx, id)
	if err != nil {
		return toolError("failed to get reminder", err), nil
	}
	return jsonResult(r), nil
}

func (s *Server) handleUpdateReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	var p reminder.Patch
	if v := req.GetString("title", ""); v != "" {
		p.Title = &v
	}
	if v := req.GetString("body", ""); v != "" {
		p.Body = &v
	}
	if v := req.GetString("due_at", ""); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		p.DueAt = &t
	}
	if v := req.GetString("channel", ""); v != "" {
		c := reminder.Channel(v)
		p.Channel = &c
	}
	if v := req.GetString("phone_number", ""); v != "" {
		p.PhoneNumber = &v
	}
	if v := req.GetString("email_address", ""); v != "" {
		p.EmailAddress = &v
	}
	if p.Empty() {
		return mcp.NewToolResultError("nothing to update"), nil
	}

	updated, err := s.engine.Update(ctx, id, p)
	if err != nil {
		return toolError("failed to update reminder", err), nil
	}
	return jsonResult(updated), nil
}

func (s *Server) handleDeleteReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.engine.Delete(ctx, id); err != nil {
		return toolError("failed to delete reminder", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %s deleted.", id)), nil
}

func (s *Server) handleSetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	updated, err := s.engine.SetStatus(ctx, id, reminder.Status(req.GetString("status", "")))
	if err != nil {
		return toolError("failed to set status", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %s marked as %s.", id, updated.Status)), nil
}

func (s *Server) handleNotify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	report, err := s.engine.NotifyNow(ctx, id, reminder.Channel(req.GetString("channel", "")))
	if err != nil {
		return toolError("failed to notify", err), nil
	}
	if !report.Succeeded() {
		output, _ := json.MarshalIndent(report, "", "  ")
		return mcp.NewToolResultError("notification failed on every channel:\n" + string(output)), nil
	}
	return jsonResult(report), nil
}

func (s *Server) sweepHandler(sweep func(context.Context) (lifecycle.SweepResult, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := sweep(ctx)
		if err != nil {
			return toolError(res.Sweep+" sweep failed", err), nil
		}
		return jsonResult(res), nil
	}
}

func requireID(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id := req.GetString("id", "")
	if id == "" {
		return "", mcp.NewToolResultError("id is required")
	}
	return id, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("due_at is required")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due_at format: %v (use RFC3339, e.g. 2025-01-15T09:00:00Z)", err)
	}
	return t, nil
}

func toolError(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func jsonResult(v any) *mcp.CallToolResult {
	output, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(output))
}
