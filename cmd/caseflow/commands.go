package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kalambet/caseflow/internal/config"
)

// --- enqueue ---

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a customer message for triage",
	Long: `Enqueue a customer message for triage.

Examples:
  caseflow enqueue --tenant acme --text "Our emails to customers are bouncing"
  caseflow enqueue --tenant acme --file ./ticket.txt
  caseflow enqueue --tenant acme --text "See attached" --attach ./bounce-report.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		attach, _ := cmd.Flags().GetString("attach")
		tenant, _ := cmd.Flags().GetString("tenant")
		source, _ := cmd.Flags().GetString("source")

		if tenant == "" {
			return fmt.Errorf("--tenant is required")
		}
		if text == "" && file == "" && attach == "" {
			return fmt.Errorf("one of --text, --file, or --attach is required")
		}

		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if text != "" {
				text += "\n\n"
			}
			text += string(data)
		}

		req := map[string]any{
			"tenant": tenant,
			"source": source,
			"text":   text,
		}
		if attach != "" {
			data, err := os.ReadFile(attach)
			if err != nil {
				return fmt.Errorf("reading attachment: %w", err)
			}
			req["attachments"] = []map[string]string{{
				"filename": filepath.Base(attach),
				"content":  base64.StdEncoding.EncodeToString(data),
			}}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/jobs", req)
		if err != nil {
			return err
		}

		var result struct {
			JobID   string `json:"job_id"`
			Status  string `json:"status"`
			Created bool   `json:"created"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Created {
			printSuccess("Queued job %s", result.JobID)
		} else {
			printWarning("Duplicate message, existing job %s (%s)", result.JobID, result.Status)
		}
		return nil
	},
}

func init() {
	enqueueCmd.Flags().String("text", "", "message text")
	enqueueCmd.Flags().String("file", "", "file with the message text")
	enqueueCmd.Flags().String("attach", "", "PDF attachment to extract text from")
	enqueueCmd.Flags().String("tenant", "", "tenant the message belongs to")
	enqueueCmd.Flags().String("source", "cli", "intake source label")
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect triage jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/jobs?limit=%d", limit)
		if status != "" {
			path += "&status=" + status
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var jobs []struct {
			ID           string `json:"id"`
			Tenant       string `json:"tenant"`
			Status       string `json:"status"`
			RedactedText string `json:"redacted_text"`
			CreatedAt    string `json:"created_at"`
		}
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		for _, j := range jobs {
			text := j.RedactedText
			if len(text) > 60 {
				text = text[:60] + "..."
			}
			fmt.Printf("%s  %-17s  %-10s  %s\n",
				colorize(colorCyan, j.ID[:8]),
				j.Status,
				j.Tenant,
				text,
			)
		}
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+args[0])
		if err != nil {
			return err
		}

		var job any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

var jobsEvidenceCmd = &cobra.Command{
	Use:   "evidence <id>",
	Short: "Show the evidence gathered for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+args[0]+"/evidence")
		if err != nil {
			return err
		}

		var records []any
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No evidence recorded.")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status")
	jobsListCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsEvidenceCmd)
}

// --- review ---

var reviewCmd = &cobra.Command{
	Use:   "review <id>",
	Short: "Record a review decision for a job",
	Long: `Record a review decision for a job.

Examples:
  caseflow review 4f3a2b1c --action approve --reviewer sam
  caseflow review 4f3a2b1c --action escalate --reviewer sam --notes "needs account manager"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		reviewer, _ := cmd.Flags().GetString("reviewer")
		notes, _ := cmd.Flags().GetString("notes")

		if action == "" {
			return fmt.Errorf("--action is required (approve, rewrite, or escalate)")
		}
		if reviewer == "" {
			reviewer = os.Getenv("USER")
		}
		if reviewer == "" {
			return fmt.Errorf("--reviewer is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/jobs/"+args[0]+"/review", map[string]string{
			"action":   action,
			"reviewer": reviewer,
			"notes":    notes,
		})
		if err != nil {
			return err
		}

		var job struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		printSuccess("Recorded %s; job %s is now %s", action, job.ID, job.Status)
		return nil
	},
}

func init() {
	reviewCmd.Flags().String("action", "", "review action: approve, rewrite, or escalate")
	reviewCmd.Flags().String("reviewer", "", "reviewer identity (defaults to $USER)")
	reviewCmd.Flags().String("notes", "", "review notes")
}

// --- promote ---

var promoteCmd = &cobra.Command{
	Use:   "promote <id>",
	Short: "Promote a reviewed job to a golden example",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/goldens/promote", map[string]string{
			"job_id": args[0],
		})
		if err != nil {
			return err
		}

		var result struct {
			GoldenID    string `json:"golden_id"`
			SourceJobID string `json:"source_job_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Promoted job %s to golden example %s", result.SourceJobID, result.GoldenID)
		return nil
	},
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
