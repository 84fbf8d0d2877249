package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/carewatch/internal/ingest"
	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/retrieval"
	"github.com/kalambet/carewatch/internal/signals"
	"github.com/kalambet/carewatch/internal/watch"
)

// MCPRetriever abstracts semantic search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Reminders ReminderService
	Watch     WatchService
	Retriever MCPRetriever // optional; if nil, recall_guidance returns an error
	Knowledge ingest.Queue
	Profile   ProfileService
	SubjectID string
	// SleepTarget stands in for an omitted sleep reading in assess_risk.
	SleepTarget float64
	Version     string
}

// NewMCPServer creates an MCP server with the carewatch tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"carewatch",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("carewatch: care reminders, risk assessment and health guidance for one monitored subject."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("create_reminder",
			mcp.WithDescription("Create a care reminder for the subject."),
			mcp.WithString("content", mcp.Description("What the subject should do"), mcp.Required()),
			mcp.WithString("severity", mcp.Description("low, medium or high (default low)"), mcp.Enum("low", "medium", "high")),
			mcp.WithNumber("due_in_minutes", mcp.Description("Minutes from now until the reminder is due (default 0)")),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
		),
		mcpCreateReminder(deps),
	)

	s.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List reminders, newest first."),
			mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("pending", "triggered", "completed", "ignored")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListReminders(deps),
	)

	s.AddTool(
		mcp.NewTool("complete_reminder",
			mcp.WithDescription("Mark a reminder as done."),
			mcp.WithNumber("id", mcp.Description("Reminder id"), mcp.Required()),
		),
		mcpSetReminderStatus(deps, reminders.StatusCompleted),
	)

	s.AddTool(
		mcp.NewTool("ignore_reminder",
			mcp.WithDescription("Dismiss a reminder without doing it."),
			mcp.WithNumber("id", mcp.Description("Reminder id"), mcp.Required()),
		),
		mcpSetReminderStatus(deps, reminders.StatusIgnored),
	)

	s.AddTool(
		mcp.NewTool("assess_risk",
			mcp.WithDescription("Assess the subject's current risk and route it to a care action. "+
				"Pass a scenario for a demo snapshot, or readings to assess them; with neither, live readings are used."),
			mcp.WithString("scenario", mcp.Description("Demo scenario"), mcp.Enum("live", "high", "medium", "low")),
			mcp.WithNumber("temperature", mcp.Description("Outdoor temperature in °C")),
			mcp.WithNumber("humidity", mcp.Description("Relative humidity in percent")),
			mcp.WithNumber("heart_rate", mcp.Description("Heart rate in bpm")),
			mcp.WithNumber("sleep", mcp.Description("Hours slept last night")),
			mcp.WithNumber("steps", mcp.Description("Steps today")),
			mcp.WithArray("warnings", mcp.Description("Active weather warning codes, e.g. WHOT")),
		),
		mcpAssessRisk(deps),
	)

	s.AddTool(
		mcp.NewTool("recall_guidance",
			mcp.WithDescription("Search the health guidance knowledge base."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecallGuidance(deps),
	)

	s.AddTool(
		mcp.NewTool("add_guidance",
			mcp.WithDescription("Store a piece of health guidance in the knowledge base for later retrieval."),
			mcp.WithString("title", mcp.Description("Title for the guidance")),
			mcp.WithString("content", mcp.Description("The guidance text"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
		),
		mcpAddGuidance(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"care://profile",
			"Subject Profile",
			mcp.WithResourceDescription("Current subject profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpCreateReminder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		creq := createReminderRequest{
			Content:  content,
			Severity: req.GetString("severity", ""),
			DueIn:    req.GetInt("due_in_minutes", 0),
			Tags:     req.GetStringSlice("tags", nil),
		}

		rem, err := deps.Reminders.Create(ctx, creq.spec(deps.SubjectID, time.Now()), reminders.OriginLocal)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create reminder: %v", err)), nil
		}
		return mcpJSON(rem)
	}
}

func mcpListReminders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 || limit > 200 {
			limit = 20
		}
		f := reminders.Filter{Limit: limit}
		if s := req.GetString("status", ""); s != "" {
			status, err := reminders.ParseStatus(s)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			f.Status = status
		}

		list, err := deps.Reminders.List(ctx, f)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list reminders: %v", err)), nil
		}
		if list == nil {
			list = []reminders.Reminder{}
		}
		return mcpJSON(list)
	}
}

func mcpSetReminderStatus(deps MCPDeps, status reminders.Status) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetFloat("id", 0))
		if id <= 0 {
			return mcpError("id is required"), nil
		}
		tr, err := deps.Reminders.UpdateStatus(ctx, id, status, reminders.OriginLocal)
		if errors.Is(err, reminders.ErrNotFound) {
			return mcpError(fmt.Sprintf("reminder %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to update reminder: %v", err)), nil
		}
		return mcpJSON(newTransitionResponse(tr))
	}
}

// signalArgs are the assess_risk arguments that make up a snapshot.
var signalArgs = []string{"temperature", "humidity", "heart_rate", "sleep", "steps", "warnings"}

func mcpAssessRisk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		hasReadings := false
		for _, k := range signalArgs {
			if _, ok := args[k]; ok {
				hasReadings = true
				break
			}
		}

		var (
			resp watch.Response
			err  error
		)
		if scenario := req.GetString("scenario", ""); scenario != "" || !hasReadings {
			resp, err = deps.Watch.State(ctx, watch.ParseScenario(scenario))
		} else {
			s := signals.Neutral(deps.SleepTarget)
			s.TemperatureC = req.GetFloat("temperature", s.TemperatureC)
			s.HumidityPct = req.GetFloat("humidity", s.HumidityPct)
			s.HeartRate = req.GetFloat("heart_rate", s.HeartRate)
			s.SleepHours = req.GetFloat("sleep", s.SleepHours)
			s.Steps = req.GetInt("steps", 0)
			if w := req.GetStringSlice("warnings", nil); w != nil {
				s.Warnings = w
			}
			resp, err = deps.Watch.Assess(ctx, s)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("assessment failed: %v", err)), nil
		}
		return mcpJSON(resp)
	}
}

func mcpRecallGuidance(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Retriever == nil {
			return mcpError("guidance search not available: no embedding model configured"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		chunks, err := deps.Retriever.Retrieve(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if chunks == nil {
			chunks = []retrieval.ContextChunk{}
		}

		type chunkResult struct {
			ID    string  `json:"id"`
			DocID string  `json:"doc_id"`
			Text  string  `json:"text"`
			Score float32 `json:"score"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{ID: c.ID, DocID: c.DocID, Text: c.Text, Score: c.Score}
		}
		return mcpJSON(results)
	}
}

func mcpAddGuidance(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		docID, _, err := ingest.Submit(ctx, deps.Knowledge, ingest.Document{
			Title:  req.GetString("title", ""),
			Source: "mcp",
			Format: ingest.FormatText,
			Tags:   req.GetStringSlice("tags", nil),
			Data:   []byte(content),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store guidance: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored guidance doc %s", docID)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
