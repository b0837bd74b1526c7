package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tietoa/kpi-cli/internal/export"
)

var (
	exportStart string
	exportEnd   string
	exportDays  int
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write merged KPI totals and sales diagnostics to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		span, err := parseSpan(exportStart, exportEnd, exportDays)
		if err != nil {
			return err
		}

		env, err := initService(ctx, "report")
		if err != nil {
			return err
		}
		defer env.Close()

		totals, err := env.Service.Totals(ctx, span, time.Now().UTC())
		if err != nil {
			return err
		}
		diags, err := env.Service.InvalidSales(ctx)
		if err != nil {
			return err
		}

		if err := export.WriteTotals(exportOut, totals, diags); err != nil {
			return err
		}
		zap.L().Info("workbook written",
			zap.String("path", exportOut),
			zap.Int("totals", len(totals)),
			zap.Int("diagnostics", len(diags)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportStart, "start", "", "span start (YYYY-MM-DD, default today)")
	exportCmd.Flags().StringVar(&exportEnd, "end", "", "span end (YYYY-MM-DD)")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "span length in days when --end is not given")
	exportCmd.Flags().StringVar(&exportOut, "out", "kpi.xlsx", "output file path")
	rootCmd.AddCommand(exportCmd)
}
