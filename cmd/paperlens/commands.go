package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paperlens/paperlens/internal/config"
)

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

		for _, s := range config.Settings(cfg) {
			fmt.Printf("  %s = %s\n", paint(ansiBold, s.Key), s.Value)
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

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <paper-id>",
	Short: "Analyze a paper and print the result as JSON",
	Long: `Analyze a paper and print the result as JSON.

Examples:
  paperlens analyze upload_3f2a9c1b
  paperlens analyze upload_3f2a9c1b --deep
  paperlens analyze upload_3f2a9c1b --force-refresh`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deep, _ := cmd.Flags().GetBool("deep")
		force, _ := cmd.Flags().GetBool("force-refresh")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/analysis/" + args[0]
		if deep {
			path += "/deep"
		} else if force {
			path += "?force_refresh=true"
		}

		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var record any
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

func init() {
	analyzeCmd.Flags().Bool("deep", false, "produce the in-depth multi-section analysis")
	analyzeCmd.Flags().Bool("force-refresh", false, "recompute even if a cached analysis exists")
}

// --- review ---

var reviewCmd = &cobra.Command{
	Use:   "review <topic>",
	Short: "Start a literature review task across papers",
	Long: `Start a literature review task across papers.

Example:
  paperlens review "transformer efficiency" --papers upload_3f2a9c1b,upload_77d0e4aa`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		papersStr, _ := cmd.Flags().GetString("papers")
		if papersStr == "" {
			return fmt.Errorf("--papers is required")
		}
		ids := strings.Split(papersStr, ",")
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"topic":     strings.Join(args, " "),
			"paper_ids": ids,
		}
		resp, err := client.post(cmd.Context(), "/review/generate", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Review task started: %s", result["task_id"])
		fmt.Printf("Poll with: paperlens task %s\n", result["task_id"])
		return nil
	},
}

func init() {
	reviewCmd.Flags().String("papers", "", "comma-separated paper ids")
}

// --- task ---

var taskCmd = &cobra.Command{
	Use:   "task <task-id>",
	Short: "Show the status of a background task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cancel, _ := cmd.Flags().GetBool("cancel")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if cancel {
			resp, err := client.post(cmd.Context(), "/tasks/"+args[0]+"/cancel", nil)
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Cancellation requested for task %s", args[0])
			return nil
		}

		resp, err := client.get(cmd.Context(), "/tasks/"+args[0])
		if err != nil {
			return err
		}

		var snap any
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	taskCmd.Flags().Bool("cancel", false, "cancel the task instead of showing status")
}
