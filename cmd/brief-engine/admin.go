package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiy/brief-engine/internal/admin"
	"github.com/xiy/brief-engine/internal/bootstrap"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Open the terminal dashboard",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		every, _ := cmd.Flags().GetDuration("refresh")
		return admin.Run(ctx, st, every)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register-clients",
	Short: "Register this server with installed agent CLIs (codex, claude, gemini)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := cmd.Flags()
		scope, _ := f.GetString("scope")
		serveCmd, _ := f.GetString("serve-command")
		clients, _ := f.GetStringSlice("clients")
		dryRun, _ := f.GetBool("dry-run")
		_, err := bootstrap.Register(cmd.Context(), logger, bootstrap.Options{
			ConfigPath: configPath,
			Scope:      scope,
			ServerName: cfg.ServerName,
			ServeCmd:   serveCmd,
			Clients:    clients,
			DryRun:     dryRun,
		}, nil)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// Skip config loading.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "brief-engine "+version)
	},
}

func init() {
	adminCmd.Flags().Duration("refresh", 2*time.Second, "dashboard refresh interval")

	f := registerCmd.Flags()
	f.String("scope", bootstrap.ScopeUser, "registration scope: user or project")
	f.String("serve-command", "brief-engine serve", "command clients use to launch the stdio server")
	f.StringSlice("clients", nil, "clients to configure (default: all installed)")
	f.Bool("dry-run", false, "print intended commands without executing")

	rootCmd.AddCommand(adminCmd, registerCmd, versionCmd)
}
