package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/tietoa/kpi-cli/internal/calendar"
	"github.com/tietoa/kpi-cli/internal/db"
	"github.com/tietoa/kpi-cli/internal/kpi"
	"github.com/tietoa/kpi-cli/internal/store"
	"github.com/tietoa/kpi-cli/pkg/projectapi"
)

// serviceEnv holds the initialized store and KPI service shared by the
// sync/report/export/serve commands.
type serviceEnv struct {
	Store    store.Store
	Service  *kpi.Service
	Calendar calendar.Oracle
}

// Close releases resources held by the environment.
func (e *serviceEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.OpenSQLite(cfg.Store.Path)
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(pool), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initService sets up the store, upstream API client and fetcher, and
// builds the KPI service. Callers should defer env.Close().
func initService(ctx context.Context, mode string) (*serviceEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	opts := []projectapi.Option{
		projectapi.WithRateLimit(cfg.API.RateLimit),
		projectapi.WithMaxInFlight(cfg.API.MaxInFlight),
	}
	if cfg.API.BaseURL != "" {
		opts = append(opts, projectapi.WithBaseURL(cfg.API.BaseURL))
	}
	api := projectapi.NewClient(cfg.API.ClientID, cfg.API.ClientSecret, cfg.API.Scope, opts...)

	cal := calendar.NewFinland()
	fetcher := projectapi.NewFetcher(api, cal, projectapi.FetchConfig{
		BusinessUnits:    cfg.API.BusinessUnits,
		OfferStatuses:    cfg.API.OfferStatuses,
		OrderStatus:      cfg.API.OrderStatus,
		FilteredKeywords: cfg.API.FilteredKeywords,
	})

	return &serviceEnv{
		Store:    st,
		Service:  kpi.NewService(fetcher, st, cal),
		Calendar: cal,
	}, nil
}
