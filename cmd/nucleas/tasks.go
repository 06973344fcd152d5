package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harshmpotenz/SideBar/internal/app"
	"github.com/harshmpotenz/SideBar/internal/clickup"
	"github.com/harshmpotenz/SideBar/internal/taskfetch"
	"github.com/harshmpotenz/SideBar/internal/taskid"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Derive the ClickUp task id from a tab URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := taskid.Resolve(args[0])
		if !id.HasTask() {
			fmt.Fprintln(cmd.OutOrStdout(), id.Message)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), id.TaskID)
		return nil
	},
}

var taskCmd = &cobra.Command{
	Use:   "task <taskId|url>",
	Short: "Load a ClickUp task with the signed-in session",
	Long: `Loads a task the same way the panel does: through the relay or, with
TASK_FETCH_MODE=direct, straight from ClickUp, using the current session
credential.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	taskCmd.Flags().Bool("raw", false, "print the task JSON as received")
	rootCmd.AddCommand(resolveCmd, taskCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	taskID := args[0]
	if id := taskid.Resolve(args[0]); id.HasTask() {
		taskID = id.TaskID
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	svc, _ := app.NewIdentity(cfg, logger)
	sess, err := svc.GetCurrentSession(cmd.Context())
	if err != nil {
		return fmt.Errorf("session lookup: %w", err)
	}
	if sess == nil {
		return errors.New(taskfetch.MessageNoCredential)
	}

	fetcher, err := app.NewFetcher(cfg, clickup.NewClient(cfg.ClickUpAPIURL, &http.Client{Timeout: cfg.TaskRequestTimeout}))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TaskRequestTimeout)
	defer cancel()
	raw, err := fetcher.Fetch(ctx, taskID, sess.AccessToken)
	if err != nil {
		return errors.New(taskfetch.DisplayMessage(err))
	}

	out := cmd.OutOrStdout()
	if asRaw, _ := cmd.Flags().GetBool("raw"); asRaw {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(raw)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, f := range clickup.Summarize(raw) {
		fmt.Fprintf(w, "%s:\t%s\n", f.Label, f.Value)
	}
	return w.Flush()
}
