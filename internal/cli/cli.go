package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/arun84-eng/FlowBit/internal/log"
	internal_storage "github.com/arun84-eng/FlowBit/internal/storage"
	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/arun84-eng/FlowBit/pkg/service"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	triggerCmd := &cobra.Command{
		Use:   "trigger [workflow-id]",
		Short: "Trigger a workflow run and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()

			payloadJSON, _ := cmd.Flags().GetString("payload")
			var payload models.JSONMap
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					fmt.Fprintf(os.Stderr, "Error: invalid payload JSON: %v\n", err)
					os.Exit(1)
				}
			}

			ctx := context.Background()
			logger := log.GetLogger()
			engine := service.NewHTTPEngineClient("", "", logger)
			svc := service.NewExecutionService(ctx, store, engine, logger)
			svc.SetPollPolicy(time.Second, service.DefaultMaxPollAttempts)

			run, err := svc.Start(ctx, args[0], payload, models.ManualTrigger)
			if err != nil {
				log.GetLogger().Errorf("Failed to trigger workflow: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to trigger workflow: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Started run %s for workflow '%s'\n", run.ID, run.WorkflowID)

			svc.Wait()
			final, err := svc.GetRun(run.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read run: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Run %s finished: %s (%s)\n", final.ID, final.Status, final.Duration)
			if final.Error != "" {
				fmt.Fprintf(os.Stdout, "Error: %s\n", final.Error)
			}
		},
	}
	triggerCmd.Flags().String("payload", "", "Input payload as JSON")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent workflow runs",
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			limit, _ := cmd.Flags().GetInt("limit")
			listRuns(store, limit)
		},
	}
	listCmd.Flags().Int("limit", 20, "Maximum number of runs to show")

	logsCmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "Show the log history of a run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			showLogs(store, args[0])
		},
	}

	schedulesCmd := &cobra.Command{
		Use:   "schedules",
		Short: "List cron schedules",
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			listSchedules(store)
		},
	}

	rootCmd.AddCommand(triggerCmd, listCmd, logsCmd, schedulesCmd)
}

func listRuns(store storage.Store, limit int) {
	runs, err := store.ListRuns(limit, 0)
	if err != nil {
		log.GetLogger().Errorf("Failed to list runs: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list runs: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Fprintf(os.Stdout, "No runs found.\n")
		return
	}
	fmt.Fprintf(os.Stdout, "Runs:\n")
	for _, r := range runs {
		fmt.Fprintf(os.Stdout, "- ID: %s, Workflow: %s, Status: %s, Trigger: %s, Started: %s\n",
			r.ID, r.WorkflowID, r.Status, r.TriggerKind, r.StartedAt.Format(time.RFC3339))
	}
}

func showLogs(store storage.Store, runID string) {
	logs, err := store.GetLogs(runID)
	if err != nil {
		log.GetLogger().Errorf("Failed to get logs: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to get logs: %v\n", err)
		os.Exit(1)
	}
	if len(logs) == 0 {
		fmt.Fprintf(os.Stdout, "No logs found for run %s.\n", runID)
		return
	}
	for _, e := range logs {
		fmt.Fprintf(os.Stdout, "[%s] %-7s %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
	}
}

func listSchedules(store storage.Store) {
	schedules, err := store.ListSchedules()
	if err != nil {
		log.GetLogger().Errorf("Failed to list schedules: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list schedules: %v\n", err)
		os.Exit(1)
	}
	if len(schedules) == 0 {
		fmt.Fprintf(os.Stdout, "No schedules found.\n")
		return
	}
	fmt.Fprintf(os.Stdout, "Schedules:\n")
	for _, s := range schedules {
		next := "-"
		if s.NextRun != nil {
			next = s.NextRun.Format(time.RFC3339)
		}
		fmt.Fprintf(os.Stdout, "- ID: %d, Workflow: %s, Expression: %q, Enabled: %t, Next: %s\n",
			s.ID, s.WorkflowID, s.Expression, s.Enabled, next)
	}
}

func storeFromFlags(cmd *cobra.Command) storage.Store {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	if dbConnStr == "" {
		return storage.NewMemStore()
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
