package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tietoa/kpi-cli/internal/kpi"
	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/series"
	"github.com/tietoa/kpi-cli/internal/timespan"
)

var (
	reportStart    string
	reportEnd      string
	reportDays     int
	reportSubtypes []string
	reportJSON     bool
)

// parseSpan builds the query range from --start/--end, falling back to
// days forward from today when either end is missing.
func parseSpan(startFlag, endFlag string, days int) (timespan.DateRange, error) {
	now := time.Now().UTC()
	start := now
	if startFlag != "" {
		t, err := time.Parse("2006-01-02", startFlag)
		if err != nil {
			return timespan.Empty(), eris.Wrap(err, "parse --start")
		}
		start = t
	}
	if endFlag != "" {
		end, err := time.Parse("2006-01-02", endFlag)
		if err != nil {
			return timespan.Empty(), eris.Wrap(err, "parse --end")
		}
		return timespan.New(start, end), nil
	}
	return timespan.FromDays(start, days), nil
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print merged daily KPI totals for a date span",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		span, err := parseSpan(reportStart, reportEnd, reportDays)
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
		if len(reportSubtypes) > 0 {
			subtypes := make([]model.Subtype, 0, len(reportSubtypes))
			for _, s := range reportSubtypes {
				subtypes = append(subtypes, model.Subtype(s))
			}
			totals = kpi.FilterTotals(totals, subtypes...)
		}

		if reportJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(totals)
		}
		return printTotals(os.Stdout, totals)
	},
}

func printTotals(w *os.File, totals []series.Total) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tUSER\tSUBTYPE\tVALUE")
	for _, t := range totals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\n",
			t.Date.Format("2006-01-02"), t.User, t.Subtype, t.Value)
	}
	return tw.Flush()
}

func init() {
	reportCmd.Flags().StringVar(&reportStart, "start", "", "span start (YYYY-MM-DD, default today)")
	reportCmd.Flags().StringVar(&reportEnd, "end", "", "span end (YYYY-MM-DD)")
	reportCmd.Flags().IntVar(&reportDays, "days", 30, "span length in days when --end is not given")
	reportCmd.Flags().StringSliceVar(&reportSubtypes, "subtype", nil, "only include these subtypes")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(reportCmd)
}
