package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var bouncesWatch bool

var bouncesCmd = &cobra.Command{
	Use:   "bounces",
	Short: "Scan the inbox feed for bounce notifications",
	Long:  "Classifies delivery-failure notifications from the inbox feed and applies status downgrades. With --watch, keeps polling on the configured interval and sweeps due retry tickets after each cycle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Monitor == nil {
			return eris.New("mailbox feed not configured (set OUTREACH_MAILBOX_BASE_URL)")
		}

		if !bouncesWatch {
			applied, err := env.Monitor.Cycle(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("bounce events applied: %d\n", applied)
			return nil
		}

		c := cron.New()
		spec := fmt.Sprintf("@every %s", cfg.Bounce.PollInterval)
		_, err = c.AddFunc(spec, func() {
			applied, err := env.Monitor.Cycle(ctx)
			if err != nil {
				zap.L().Error("bounce cycle failed", zap.Error(err))
				return
			}
			if applied > 0 {
				zap.L().Info("bounce cycle complete", zap.Int("applied", applied))
			}

			dispatched, err := env.Coordinator.Sweep(ctx)
			if err != nil {
				zap.L().Error("retry sweep failed", zap.Error(err))
				return
			}
			if dispatched > 0 {
				zap.L().Info("retry sweep complete", zap.Int("dispatched", dispatched))
			}
		})
		if err != nil {
			return eris.Wrap(err, "schedule bounce cycle")
		}

		zap.L().Info("watching inbox feed", zap.Duration("interval", cfg.Bounce.PollInterval))
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	bouncesCmd.Flags().BoolVar(&bouncesWatch, "watch", false, "keep polling on the configured interval")
	rootCmd.AddCommand(bouncesCmd)
}
