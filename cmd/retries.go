package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var retriesCmd = &cobra.Command{
	Use:   "retries",
	Short: "Manage retry tickets",
}

var retriesSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Dispatch alternates for tickets past their cooldown",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		dispatched, err := env.Coordinator.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("retries dispatched: %d\n", dispatched)
		return nil
	},
}

var retriesShowCmd = &cobra.Command{
	Use:   "show ORGANIZATION",
	Short: "Show the retry ticket for an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ticket, err := st.GetTicket(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ticket)
	},
}

func init() {
	retriesCmd.AddCommand(retriesSweepCmd)
	retriesCmd.AddCommand(retriesShowCmd)
	rootCmd.AddCommand(retriesCmd)
}
