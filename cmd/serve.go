package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tietoa/kpi-cli/internal/config"
	"github.com/tietoa/kpi-cli/internal/kpi"
	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/notify"
	"github.com/tietoa/kpi-cli/internal/scheduler"
	"github.com/tietoa/kpi-cli/internal/timespan"
	"github.com/tietoa/kpi-cli/pkg/anthropic"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the KPI API server with scheduled snapshot jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		runner := scheduler.NewRunner()
		jobs, err := buildJobs(cfg, env)
		if err != nil {
			return err
		}
		runner.Add(jobs...)
		runner.Start(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env.Service, runner),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Int("jobs", len(jobs)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildJobs assembles the nightly snapshot job and, when a webhook is
// configured, the weekly summary job.
func buildJobs(cfg *config.Config, env *serviceEnv) ([]scheduler.Job, error) {
	jobs := []scheduler.Job{{
		Name:     "snapshot",
		Schedule: scheduler.Daily{Hour: cfg.Schedule.SnapshotHour, Minute: cfg.Schedule.SnapshotMinute},
		Run: func(ctx context.Context) error {
			_, err := env.Service.Snapshot(ctx)
			return err
		},
	}}

	if cfg.Notify.WebhookURL == "" {
		zap.L().Info("notify webhook not configured, weekly summary disabled")
		return jobs, nil
	}

	weekday, err := config.ParseWeekday(cfg.Schedule.SummaryWeekday)
	if err != nil {
		return nil, err
	}
	var llm anthropic.Client
	if cfg.Notify.AnthropicKey != "" {
		llm = anthropic.NewClient(cfg.Notify.AnthropicKey)
	}
	notifier := notify.NewNotifier(notify.NewWebhook(cfg.Notify.WebhookURL), llm, cfg.Notify.Model)
	spanDays := cfg.Schedule.SummarySpanDays

	jobs = append(jobs, scheduler.Job{
		Name:     "weekly-summary",
		Schedule: scheduler.Weekly{Weekday: weekday, Hour: cfg.Schedule.SummaryHour},
		Run: func(ctx context.Context) error {
			now := time.Now().UTC()
			totals, err := env.Service.Totals(ctx, timespan.FromDays(now, spanDays), now)
			if err != nil {
				return err
			}
			diags, err := env.Service.InvalidSales(ctx)
			if err != nil {
				return err
			}
			return notifier.SendWeeklySummary(ctx, totals, diags)
		},
	})
	return jobs, nil
}

// newRouter wires the HTTP API.
func newRouter(svc *kpi.Service, runner *scheduler.Runner) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, runner.Status())
		})

		r.Post("/snapshot", func(w http.ResponseWriter, req *http.Request) {
			// Snapshot hits every upstream endpoint; run it out of band
			// like the nightly job does.
			go func() {
				if _, err := svc.Snapshot(context.WithoutCancel(req.Context())); err != nil {
					zap.L().Error("manual snapshot failed", zap.Error(err))
				}
			}()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		r.Get("/totals", func(w http.ResponseWriter, req *http.Request) {
			handleTotals(w, req, svc, nil)
		})

		r.Get("/hours", func(w http.ResponseWriter, req *http.Request) {
			handleTotals(w, req, svc, []model.Subtype{
				model.SubtypeWorkhours, model.SubtypeAbsences, model.SubtypeSaleswork, model.SubtypeMaximum,
			})
		})

		r.Get("/billing", func(w http.ResponseWriter, req *http.Request) {
			handleTotals(w, req, svc, []model.Subtype{model.SubtypeBilling})
		})

		r.Get("/offers", func(w http.ResponseWriter, req *http.Request) {
			handleTotals(w, req, svc, []model.Subtype{model.SubtypeSalesvalue})
		})

		r.Get("/pressure", func(w http.ResponseWriter, req *http.Request) {
			span, err := parseSpan(req.URL.Query().Get("start"), req.URL.Query().Get("end"), 30)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			points, err := svc.Pressure(req.Context(), span, time.Now().UTC())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, points)
		})

		r.Get("/diagnostics", func(w http.ResponseWriter, req *http.Request) {
			diags, err := svc.InvalidSales(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, diags)
		})
	})

	return r
}

func handleTotals(w http.ResponseWriter, req *http.Request, svc *kpi.Service, subtypes []model.Subtype) {
	span, err := parseSpan(req.URL.Query().Get("start"), req.URL.Query().Get("end"), 30)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	totals, err := svc.Totals(req.Context(), span, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(subtypes) > 0 {
		totals = kpi.FilterTotals(totals, subtypes...)
	}
	writeJSON(w, http.StatusOK, totals)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
