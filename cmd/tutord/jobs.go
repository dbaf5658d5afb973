package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Freeeeeet/tutorbook/internal/config"
	"github.com/Freeeeeet/tutorbook/internal/controller/api"
)

// Разовые команды для cron/k8s jobs: одно действие и выход

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Persist expiry of lessons past their grace period",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := loadRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		swept, err := rt.lessons.SweepExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d lesson(s)\n", swept)
		return nil
	},
}

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Run one settlement queue tick",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := loadRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.queue.ProcessTick(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "started=%d settled=%d failed=%d retried=%d skipped=%d\n",
			res.Started, res.Settled, res.Failed, res.Retried, res.Skipped)
		return nil
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver pending notifications once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := loadRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		b, err := rt.newBot()
		if err != nil {
			return err
		}
		res, err := rt.newDispatcher(b).DispatchOnce(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "delivered=%d dropped=%d failed=%d\n", res.Delivered, res.Dropped, res.Failed)
		return nil
	},
}

var tokenOpts struct {
	ttl time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue an API bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var userID int64
		if _, err := fmt.Sscan(args[0], &userID); err != nil || userID <= 0 {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is not set")
		}

		token, err := api.IssueToken([]byte(cfg.JWTSecret), userID, tokenOpts.ttl, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenOpts.ttl, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(sweepCmd, settleCmd, dispatchCmd, tokenCmd)
}
