package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/xiy/brief-engine/internal/config"
)

const version = "v0.2.0"

var (
	configPath string
	cfg        config.Config
	logger     *log.Logger
)

var rootCmd = &cobra.Command{
	Use:           "brief-engine",
	Short:         "Novelty, ranking and preference learning for personalized morning briefs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.EnsurePaths(); err != nil {
			return err
		}
		cfg = c
		logger = newLogger(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/brief-engine.yaml", "path to config file")
}

// newLogger writes to stderr; stdout belongs to the MCP stream.
func newLogger(c config.Config) *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{Prefix: c.ServerName, ReportTimestamp: true})
	l.SetLevel(parseLevel(c.LogLevel))
	return l
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
