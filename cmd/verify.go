package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
)

var verifyPersist bool

var verifyCmd = &cobra.Command{
	Use:   "verify EMAIL",
	Short: "Verify a single email address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		email := model.NormalizeEmail(args[0])
		candidate := model.ContactCandidate{
			Email:       email,
			Domain:      model.EmailDomain(email),
			Method:      model.MethodPattern,
			GeneratedAt: time.Now().UTC(),
		}

		rec := env.Verifier.Verify(ctx, candidate)

		if verifyPersist {
			if _, err := env.Store.Upsert(ctx, candidate); err != nil {
				return err
			}
			if err := env.Store.SetVerification(ctx, email, rec); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyPersist, "persist", false, "store the verification result")
	rootCmd.AddCommand(verifyCmd)
}
