package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xiy/brief-engine/internal/mcp"
	"github.com/xiy/brief-engine/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP stdio server and the periodic consolidation worker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("no-worker", false, "do not start the consolidation worker")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openServices(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if noWorker, _ := cmd.Flags().GetBool("no-worker"); !noWorker {
		go worker.Start(ctx, logger, worker.ScheduleFromConfig(cfg.Consolidation), rt.consolidator)
	}

	server := mcp.NewServer(cfg.ServerName, mcp.Deps{
		Memory:        rt.memory,
		Classifier:    rt.classifier,
		Pipeline:      rt.pipeline,
		Feedback:      rt.store,
		Preferences:   rt.store,
		Consolidator:  rt.consolidator,
		Consolidation: cfg.Consolidation,
		RequestLog:    rt.store,
	}, logger)
	logger.Info("starting MCP stdio server", "db", cfg.DBPath)
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
