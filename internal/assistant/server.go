// Package assistant exposes reminder management as MCP tools so an AI
// assistant can read and act on the medication schedule.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/noahxzhu/pillbox/internal/model"
)

const (
	serverName    = "pillbox"
	serverVersion = "1.0.0"

	defaultSnoozeMinutes = 10
)

// Actions are the reminder operations the tools may invoke.
type Actions interface {
	Add(ctx context.Context, in model.NewReminder) (model.Reminder, error)
	Remove(ctx context.Context, id string) error
	TogglePause(ctx context.Context, id string) (model.Reminder, error)
	Snooze(ctx context.Context, id string, minutes int) (model.Reminder, error)
	MarkTaken(ctx context.Context, id string) (model.Reminder, bool, error)
	AddNote(ctx context.Context, id, note string) (model.Reminder, error)
}

type Reader interface {
	List() []model.Reminder
	Upcoming() []model.Reminder
}

type Server struct {
	mcpServer *server.MCPServer
	store     Reader
	actions   Actions
}

func NewServer(store Reader, actions Actions) *Server {
	s := &Server{
		store:   store,
		actions: actions,
	}

	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)

	s.registerTools()
	return s
}

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List medication reminders. Set upcoming to only return active ones ordered by next dose."),
			mcp.WithBoolean("upcoming", mcp.Description("Only active reminders, soonest first")),
		),
		s.handleListReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("add_reminder",
			mcp.WithDescription("Create a medication reminder"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Medicine name")),
			mcp.WithString("times", mcp.Required(), mcp.Description("Comma separated times of day, HH:MM 24h (e.g. 08:00,20:00)")),
			mcp.WithString("dosage", mcp.Description("Dosage, e.g. 1 tablet")),
			mcp.WithString("repeat", mcp.Description("once or daily (default: daily)")),
			mcp.WithString("patient_name", mcp.Description("Patient name")),
			mcp.WithString("phone", mcp.Description("Phone number for SMS reminders")),
			mcp.WithBoolean("send_sms", mcp.Description("Also send an SMS when the reminder fires")),
		),
		s.handleAddReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("mark_taken",
			mcp.WithDescription("Record that a dose was taken"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleMarkTaken,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("snooze_reminder",
			mcp.WithDescription("Postpone the next dose by a number of minutes"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithNumber("minutes", mcp.Description("Minutes to snooze (default: 10)")),
		),
		s.handleSnooze,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("toggle_pause",
			mcp.WithDescription("Pause an active reminder or resume a paused one"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleTogglePause,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("delete_reminder",
			mcp.WithDescription("Delete a reminder permanently"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleDelete,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("add_note",
			mcp.WithDescription("Attach a note to a reminder"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithString("note", mcp.Required(), mcp.Description("Note text")),
		),
		s.handleAddNote,
	)
}

func (s *Server) handleListReminders(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reminders := s.store.List()
	if req.GetBool("upcoming", false) {
		reminders = s.store.Upcoming()
	}

	if len(reminders) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}
	return jsonResult(reminders), nil
}

func (s *Server) handleAddReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	times := splitTimes(req.GetString("times", ""))
	if len(times) == 0 {
		return mcp.NewToolResultError("times is required"), nil
	}

	in := model.NewReminder{
		Name:        name,
		Dosage:      req.GetString("dosage", ""),
		Times:       times,
		Repeat:      model.Repeat(req.GetString("repeat", "")),
		PatientName: req.GetString("patient_name", ""),
		Phone:       req.GetString("phone", ""),
		SendSMS:     req.GetBool("send_sms", false),
	}

	added, err := s.actions.Add(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add reminder: %v", err)), nil
	}
	return jsonResult(added), nil
}

func (s *Server) handleMarkTaken(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	r, removed, err := s.actions.MarkTaken(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to mark taken: %v", err)), nil
	}
	if removed {
		return mcp.NewToolResultText(fmt.Sprintf("One-time reminder %q completed and removed.", r.Name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Dose of %q recorded. Next dose at %s.", r.Name, formatNext(r.NextAt))), nil
}

func (s *Server) handleSnooze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	minutes := int(req.GetFloat("minutes", defaultSnoozeMinutes))

	r, err := s.actions.Snooze(ctx, id, minutes)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to snooze reminder: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Snoozed %q for %d min, next dose at %s.", r.Name, minutes, formatNext(r.NextAt))), nil
}

func (s *Server) handleTogglePause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	r, err := s.actions.TogglePause(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to toggle pause: %v", err)), nil
	}
	if r.Paused {
		return mcp.NewToolResultText(fmt.Sprintf("Reminder %q paused.", r.Name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %q resumed, next dose at %s.", r.Name, formatNext(r.NextAt))), nil
}

func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	if err := s.actions.Remove(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete reminder: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %s deleted.", id)), nil
}

func (s *Server) handleAddNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	note := req.GetString("note", "")
	if id == "" || note == "" {
		return mcp.NewToolResultError("id and note are required"), nil
	}

	r, err := s.actions.AddNote(ctx, id, note)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add note: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Note saved on %q.", r.Name)), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(output))
}

func splitTimes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formatNext(t *time.Time) string {
	if t == nil {
		return "unscheduled"
	}
	return t.Format("Mon Jan 2 15:04")
}
