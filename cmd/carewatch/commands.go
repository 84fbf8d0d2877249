package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/carewatch/internal/config"
	"github.com/kalambet/carewatch/internal/ingest"
	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/watch"
)

// --- assess ---

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Run one risk assessment and act on it",
	Long: `Run one risk assessment and act on it.

Without --scenario the live weather and sensor readings are used. The demo
scenarios high, medium and low replay fixed snapshots.

Examples:
  carewatch assess
  carewatch assess --scenario high
  carewatch assess --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scenario, _ := cmd.Flags().GetString("scenario")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/watch_state?scenario="+url.QueryEscape(scenario))
		if err != nil {
			return err
		}

		var result watch.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		printAssessment(cmd, result)
		return nil
	},
}

func printAssessment(cmd *cobra.Command, r watch.Response) {
	out := cmd.OutOrStdout()
	level := r.Output.RiskLevel
	fmt.Fprintf(out, "%s %s (route: %s)\n",
		colorize(colorBold, "Risk:"), colorize(severityColor(level), level), r.Output.Route)
	if r.UserName != "" {
		fmt.Fprintf(out, "%s %s\n", colorize(colorBold, "For:"), r.UserName)
	}
	fmt.Fprintf(out, "%s %s\n", colorize(colorBold, "Message:"), r.Output.Message)
	for _, rem := range r.Output.Reminders {
		fmt.Fprintf(out, "  #%d [%s] %s (due %s)\n",
			rem.ID, colorize(severityColor(rem.Severity), rem.Severity), rem.Content, rem.DueTime.Local().Format(time.Kitchen))
	}
}

func init() {
	assessCmd.Flags().String("scenario", "live", "live, high, medium or low")
	assessCmd.Flags().Bool("json", false, "print the full response as JSON")
}

// --- reminders ---

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "List, create and resolve reminders",
}

var remindersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reminders, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if status != "" {
			q.Set("status", status)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/reminders?"+q.Encode())
		if err != nil {
			return err
		}

		var list []reminders.Reminder
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No reminders found.")
			return nil
		}
		for _, r := range list {
			fmt.Fprintln(cmd.OutOrStdout(), reminderLine(r))
		}
		return nil
	},
}

func reminderLine(r reminders.Reminder) string {
	return fmt.Sprintf("%s  %-9s  %-6s  %s  %s",
		colorize(colorCyan, fmt.Sprintf("#%d", r.ID)),
		r.Status,
		colorize(severityColor(string(r.Severity)), string(r.Severity)),
		r.DueAt.Local().Format("2006-01-02 15:04"),
		r.Content,
	)
}

var remindersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseReminderID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/reminders/%d", id))
		if err != nil {
			return err
		}
		var r reminders.Reminder
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), r)
	},
}

var remindersCreateCmd = &cobra.Command{
	Use:   "create <content>",
	Short: "Create a reminder",
	Long: `Create a reminder.

Examples:
  carewatch reminders create "Drink a glass of water" --in 30m
  carewatch reminders create "Call daughter" --severity high --tags family`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		severity, _ := cmd.Flags().GetString("severity")
		in, _ := cmd.Flags().GetDuration("in")
		repeat, _ := cmd.Flags().GetString("repeat")
		tagsStr, _ := cmd.Flags().GetString("tags")

		body := map[string]any{
			"content":     strings.Join(args, " "),
			"severity":    severity,
			"due_time":    time.Now().Add(in).UTC().Format(time.RFC3339),
			"repeat_rule": repeat,
		}
		if tags := splitTags(tagsStr); tags != nil {
			body["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/reminders", body)
		if err != nil {
			return err
		}
		var r reminders.Reminder
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}
		printSuccess("Created reminder #%d", r.ID)
		return nil
	},
}

func newStatusCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReminderID(args[0])
			if err != nil {
				return err
			}
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err := client.post(cmd.Context(), fmt.Sprintf("/api/reminders/%d/%s", id, use), nil)
			if err != nil {
				return err
			}

			var result struct {
				Reminder reminders.Reminder `json:"reminder"`
				Changed  bool               `json:"changed"`
				Reason   string             `json:"reason"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			if !result.Changed {
				printWarning("Reminder #%d unchanged: %s (status %s)", id, result.Reason, result.Reminder.Status)
				return nil
			}
			printSuccess("Reminder #%d is now %s", id, result.Reminder.Status)
			return nil
		},
	}
}

func parseReminderID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid reminder id %q", s)
	}
	return id, nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func init() {
	remindersListCmd.Flags().String("status", "", "filter by status (pending, triggered, completed, ignored)")
	remindersListCmd.Flags().Int("limit", 20, "maximum number of reminders to list")

	remindersCreateCmd.Flags().String("severity", "low", "low, medium or high")
	remindersCreateCmd.Flags().Duration("in", 0, "time from now until the reminder is due")
	remindersCreateCmd.Flags().String("repeat", "", "repeat rule, e.g. daily")
	remindersCreateCmd.Flags().String("tags", "", "comma-separated tags")

	remindersCmd.AddCommand(remindersListCmd)
	remindersCmd.AddCommand(remindersShowCmd)
	remindersCmd.AddCommand(remindersCreateCmd)
	remindersCmd.AddCommand(newStatusCmd("complete", "Mark a reminder as done"))
	remindersCmd.AddCommand(newStatusCmd("ignore", "Dismiss a reminder"))
}

// --- events ---

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the care event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if kind != "" {
			q.Set("kind", kind)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/events?"+q.Encode())
		if err != nil {
			return err
		}

		var events []struct {
			Kind       string    `json:"kind"`
			ReminderID int64     `json:"reminder_id"`
			CreatedAt  time.Time `json:"created_at"`
			Payload    any       `json:"payload"`
		}
		if err := decodeJSON(resp, &events); err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
			return nil
		}
		for _, e := range events {
			ref := ""
			if e.ReminderID != 0 {
				ref = fmt.Sprintf(" #%d", e.ReminderID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s%s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				colorize(colorCyan, e.Kind),
				ref,
			)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().String("kind", "", "filter by event kind, e.g. routing_result")
	eventsCmd.Flags().Int("limit", 50, "maximum number of events")
}

// --- routes ---

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show recent routing decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/routes?limit="+strconv.Itoa(limit))
		if err != nil {
			return err
		}
		var routes []struct {
			CreatedAt   time.Time `json:"created_at"`
			Scenario    string    `json:"scenario"`
			RiskLevel   string    `json:"risk_level"`
			Score       float64   `json:"score"`
			Route       string    `json:"route"`
			ReminderIDs []int64   `json:"reminder_ids"`
		}
		if err := decodeJSON(resp, &routes); err != nil {
			return err
		}
		if len(routes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No routing decisions yet.")
			return nil
		}
		for _, r := range routes {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-6s %s score=%.1f route=%s",
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				r.Scenario,
				colorize(severityColor(r.RiskLevel), r.RiskLevel),
				r.Score,
				r.Route,
			)
			if len(r.ReminderIDs) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " reminders=%d", len(r.ReminderIDs))
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

func init() {
	routesCmd.Flags().Int("limit", 20, "maximum number of decisions")
}

// --- kb ---

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the health guidance knowledge base",
}

var kbAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Queue a text, markdown, HTML or PDF document for indexing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		title, _ := cmd.Flags().GetString("title")
		tagsStr, _ := cmd.Flags().GetString("tags")

		body, err := knowledgeRequest(path, title, splitTags(tagsStr))
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/knowledge", body)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued doc %s (job %s)", result["id"], result["job_id"])
		return nil
	},
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed guidance documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/knowledge?limit="+strconv.Itoa(limit))
		if err != nil {
			return err
		}
		var docs []struct {
			ID         string   `json:"id"`
			Title      string   `json:"title"`
			Format     string   `json:"format"`
			Tags       []string `json:"tags"`
			ChunkCount int      `json:"chunk_count"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No documents found.")
			return nil
		}
		for _, d := range docs {
			state := fmt.Sprintf("%d chunks", d.ChunkCount)
			if d.ChunkCount == 0 {
				state = colorize(colorYellow, "pending")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s [%s] %s", d.ID[:min(8, len(d.ID))], d.Title, d.Format, state)
			if len(d.Tags) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  (%s)", strings.Join(d.Tags, ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

// knowledgeRequest builds the upload body for path. Binary formats are sent
// base64 encoded.
func knowledgeRequest(path, title string, tags []string) (map[string]any, error) {
	format := ingest.DetectFormat(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if title == "" {
		title = filepath.Base(path)
	}

	body := map[string]any{
		"title":  title,
		"source": "cli",
		"format": format,
	}
	if format == ingest.FormatPDF {
		body["content"] = base64.StdEncoding.EncodeToString(data)
		body["encoding"] = "base64"
	} else {
		body["content"] = string(data)
	}
	if tags != nil {
		body["tags"] = tags
	}
	return body, nil
}

func init() {
	kbAddCmd.Flags().String("title", "", "document title (default: file name)")
	kbAddCmd.Flags().String("tags", "", "comma-separated tags")
	kbListCmd.Flags().Int("limit", 20, "maximum number of documents")
	kbCmd.AddCommand(kbAddCmd)
	kbCmd.AddCommand(kbListCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the profile of the person being cared for",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/profile")
		if err != nil {
			return err
		}
		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field",
	Long: `Set a profile field. List fields take a comma-separated value.

Examples:
  carewatch profile set identity.name "Mrs. Chan"
  carewatch profile set health.conditions hypertension,diabetes
  carewatch profile set baseline.sleep_target 7.5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/api/profile", map[string]any{key: value})
		if err != nil {
			return err
		}
		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
