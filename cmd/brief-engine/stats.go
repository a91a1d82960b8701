package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [user]",
	Short: "Print memory statistics for one user, or database totals",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openServices(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		if len(args) == 0 {
			s, err := rt.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		}
		s, err := rt.memory.Stats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, s)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <user>",
	Short: "Irreversibly wipe a user's item memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("refusing to clear memory without --yes")
		}
		rt, err := openServices(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.memory.Clear(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d items for %s\n", n, args[0])
		return err
	},
}

func init() {
	clearCmd.Flags().Bool("yes", false, "confirm the wipe")
	rootCmd.AddCommand(statsCmd, clearCmd)
}
