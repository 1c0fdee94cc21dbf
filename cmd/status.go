package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status EMAIL",
	Short: "Show the stored record for a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		contact, err := st.GetContact(ctx, model.NormalizeEmail(args[0]))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(contact)
	},
}

var blacklistReason string

var blacklistCmd = &cobra.Command{
	Use:   "blacklist EMAIL",
	Short: "Permanently exclude an address from outreach",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return st.Blacklist(ctx, model.NormalizeEmail(args[0]), blacklistReason)
	},
}

func init() {
	blacklistCmd.Flags().StringVar(&blacklistReason, "reason", "manual", "reason code recorded on the contact")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(blacklistCmd)
}
