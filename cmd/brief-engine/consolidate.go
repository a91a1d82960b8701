package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiy/brief-engine/internal/worker"
	"github.com/xiy/brief-engine/pkg/types"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Learn preferences from recent feedback once and print the results",
	Long: `Consolidate feedback events into user preferences.

Without --user every user with at least --min-events events in the window is
processed in parallel. With --user only that user is processed, subject to the
same minimum.

Examples:
  brief-engine consolidate
  brief-engine consolidate --user alice --window-days 7`,
	RunE: runConsolidate,
}

func init() {
	f := consolidateCmd.Flags()
	f.String("user", "", "consolidate a single user")
	f.Int("window-days", 0, "feedback window in days (0=use config)")
	f.Int("min-events", 0, "minimum events per user (0=use config)")
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	sched := worker.ScheduleFromConfig(cfg.Consolidation)
	if d, _ := cmd.Flags().GetInt("window-days"); d > 0 {
		sched.Window = time.Duration(d) * 24 * time.Hour
	}
	if n, _ := cmd.Flags().GetInt("min-events"); n > 0 {
		sched.MinEvents = n
	}

	rt, err := openServices(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	now := time.Now().UTC()
	var results map[string]types.ConsolidationResult
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		if err := rt.memory.ValidateUser(user); err != nil {
			return err
		}
		events, err := rt.store.FeedbackForUser(ctx, user, now.Add(-sched.Window))
		if err != nil {
			return err
		}
		results = map[string]types.ConsolidationResult{}
		if len(events) >= sched.MinEvents {
			res, err := rt.consolidator.ConsolidateUser(ctx, user, events)
			if err != nil {
				return err
			}
			results[user] = res
		}
	} else if results, err = worker.RunOnce(ctx, logger, sched, rt.consolidator, now); err != nil {
		return err
	}
	return printJSON(cmd, results)
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
