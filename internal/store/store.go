// Package store persists KPI record snapshots as JSON documents keyed
// by identity, with a Postgres backend for production and a sqlite
// backend for local use.
package store

import (
	"context"
	"time"

	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/timespan"
)

// Collection names. Each kind snapshots into its own collection;
// diagnostics live in their own expiring collection.
const (
	CollectionHours        = "hours"
	CollectionBilling      = "billing"
	CollectionSales        = "sales"
	CollectionUsers        = "users"
	CollectionInvalidSales = "invalid_sales"
)

// CollectionForKind maps a record kind to its snapshot collection.
func CollectionForKind(kind model.Kind) string {
	switch kind {
	case model.KindHours:
		return CollectionHours
	case model.KindBilling:
		return CollectionBilling
	case model.KindSales:
		return CollectionSales
	case model.KindUsers:
		return CollectionUsers
	}
	return string(kind)
}

// Query narrows a Find to a forecast snapshot and, optionally, a span
// of forecast dates.
type Query struct {
	// ForecastDate selects a single snapshot when set.
	ForecastDate *time.Time
	// Span keeps only records whose forecast date falls inside it.
	Span timespan.DateRange
}

// UpsertResult reports how an Upsert landed.
type UpsertResult struct {
	Inserted int
	Replaced int
}

// Store is the persistence surface for record snapshots.
type Store interface {
	// Migrate creates the schema when missing.
	Migrate(ctx context.Context) error

	// Insert appends rows without identity checks.
	Insert(ctx context.Context, collection string, rows []model.Record) error

	// Upsert writes rows keyed by identity, replacing same-key rows
	// from earlier runs. Rows without an identity key are inserted
	// under a fresh id.
	Upsert(ctx context.Context, collection string, rows []model.Record) (UpsertResult, error)

	// InsertExpiring appends rows that DeleteExpired may later reap.
	InsertExpiring(ctx context.Context, collection string, rows []model.Record, ttl time.Duration) error

	// Find returns rows matching the query, newest snapshot ordering
	// left to the caller.
	Find(ctx context.Context, collection string, q Query) ([]model.Record, error)

	// MaxForecastDate returns the latest snapshot date in the
	// collection, or a zero time when the collection is empty.
	MaxForecastDate(ctx context.Context, collection string) (time.Time, error)

	// DeleteExpired reaps rows whose TTL has lapsed.
	DeleteExpired(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
