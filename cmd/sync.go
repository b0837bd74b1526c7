package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch all KPI kinds and save a forecast snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		t0 := time.Now()
		res, err := env.Service.Snapshot(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("snapshot complete",
			zap.Int("diagnostics", res.Invalid),
			zap.Duration("took", time.Since(t0)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
