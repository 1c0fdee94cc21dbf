package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/pipeline"
)

var (
	runFile   string
	runOrg    string
	runDomain string
	runNames  []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover, verify, and dispatch contacts for organizations",
	Long:  "Reads organizations from a CSV file (or a single --org flag), generates candidate emails, verifies them, and hands the best deliverable address to the sender.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		src, err := runSource()
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Orchestrator.Run(ctx, src)
		if err != nil {
			return err
		}

		fmt.Printf("organizations: %d\n", summary.Organizations)
		fmt.Printf("candidates generated: %d\n", summary.Generated)
		fmt.Printf("candidates verified: %d\n", summary.Verified)
		fmt.Printf("contacts accepted: %d\n", summary.Accepted)
		fmt.Printf("messages dispatched: %d\n", summary.Sent)
		if len(summary.Failed) > 0 {
			fmt.Printf("failed: %s\n", strings.Join(summary.Failed, ", "))
		}
		return nil
	},
}

func runSource() (pipeline.Source, error) {
	switch {
	case runOrg != "":
		return pipeline.StaticSource{{
			Name:       runOrg,
			DomainHint: runDomain,
			KnownNames: runNames,
		}}, nil
	case runFile != "":
		return &pipeline.CSVSource{Path: runFile}, nil
	default:
		return nil, eris.New("either --file or --org is required")
	}
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "CSV file of organizations (organization,domain,names)")
	runCmd.Flags().StringVar(&runOrg, "org", "", "process a single organization")
	runCmd.Flags().StringVar(&runDomain, "domain", "", "domain hint for --org")
	runCmd.Flags().StringSliceVar(&runNames, "names", nil, "known contact names for --org")
	rootCmd.AddCommand(runCmd)
}
