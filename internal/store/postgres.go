package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tietoa/kpi-cli/internal/db"
	"github.com/tietoa/kpi-cli/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
    id            TEXT PRIMARY KEY,
    collection    TEXT NOT NULL,
    forecast_date TIMESTAMPTZ,
    doc           JSONB NOT NULL,
    inserted_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS records_collection_forecast_idx
    ON records (collection, forecast_date);
CREATE INDEX IF NOT EXISTS records_expires_idx
    ON records (expires_at) WHERE expires_at IS NOT NULL;
`

// Postgres stores records as JSONB documents in a single table.
type Postgres struct {
	pool db.Pool
}

// NewPostgres wraps an existing pool. The caller owns migration.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return eris.Wrap(err, "store: migrate")
	}
	return nil
}

func (s *Postgres) Insert(ctx context.Context, collection string, rows []model.Record) error {
	if len(rows) == 0 {
		return nil
	}
	return s.insert(ctx, collection, rows, nil)
}

func (s *Postgres) InsertExpiring(ctx context.Context, collection string, rows []model.Record, ttl time.Duration) error {
	if len(rows) == 0 {
		return nil
	}
	expires := time.Now().UTC().Add(ttl)
	return s.insert(ctx, collection, rows, &expires)
}

func (s *Postgres) insert(ctx context.Context, collection string, rows []model.Record, expires *time.Time) error {
	batch := &pgx.Batch{}
	for i := range rows {
		doc, err := json.Marshal(rows[i])
		if err != nil {
			return eris.Wrap(err, "store: marshal record")
		}
		id := rows[i].IdentityKey
		if id == "" {
			id = uuid.New().String()
		}
		// Keyed rows are re-inserted in place: diagnostics carry
		// deterministic identity keys and must survive a re-run inside
		// their TTL.
		batch.Queue(
			`INSERT INTO records (id, collection, forecast_date, doc, expires_at) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE
			 SET collection = EXCLUDED.collection, forecast_date = EXCLUDED.forecast_date,
			     doc = EXCLUDED.doc, expires_at = EXCLUDED.expires_at, inserted_at = now()`,
			id, collection, rows[i].ForecastDate, doc, expires,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return eris.Wrap(err, "store: insert batch")
		}
	}
	return nil
}

func (s *Postgres) Upsert(ctx context.Context, collection string, rows []model.Record) (UpsertResult, error) {
	var res UpsertResult
	if len(rows) == 0 {
		return res, nil
	}

	batch := &pgx.Batch{}
	plain := 0
	for i := range rows {
		doc, err := json.Marshal(rows[i])
		if err != nil {
			return res, eris.Wrap(err, "store: marshal record")
		}
		if rows[i].IdentityKey == "" {
			plain++
			batch.Queue(
				`INSERT INTO records (id, collection, forecast_date, doc) VALUES ($1, $2, $3, $4)`,
				uuid.New().String(), collection, rows[i].ForecastDate, doc,
			)
			continue
		}
		// xmax = 0 distinguishes a fresh insert from a conflict update.
		batch.Queue(
			`INSERT INTO records (id, collection, forecast_date, doc) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE
			 SET collection = EXCLUDED.collection, doc = EXCLUDED.doc,
			     forecast_date = EXCLUDED.forecast_date, inserted_at = now()
			 RETURNING (xmax = 0)`,
			rows[i].IdentityKey, collection, rows[i].ForecastDate, doc,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range rows {
		if rows[i].IdentityKey == "" {
			if _, err := results.Exec(); err != nil {
				return res, eris.Wrap(err, "store: upsert insert")
			}
			res.Inserted++
			continue
		}
		var fresh bool
		if err := results.QueryRow().Scan(&fresh); err != nil {
			return res, eris.Wrap(err, "store: upsert scan")
		}
		if fresh {
			res.Inserted++
		} else {
			res.Replaced++
		}
	}
	zap.L().Debug("store: upsert done",
		zap.String("collection", collection),
		zap.Int("inserted", res.Inserted),
		zap.Int("replaced", res.Replaced),
		zap.Int("unkeyed", plain))
	return res, nil
}

func (s *Postgres) Find(ctx context.Context, collection string, q Query) ([]model.Record, error) {
	sql := `SELECT doc FROM records WHERE collection = $1`
	args := []any{collection}
	if q.ForecastDate != nil {
		sql += ` AND forecast_date = $2`
		args = append(args, *q.ForecastDate)
	} else if !q.Span.IsEmpty() {
		sql += ` AND forecast_date >= $2 AND forecast_date <= $3`
		args = append(args, q.Span.Start(), q.Span.End())
	}
	sql += ` ORDER BY forecast_date, id`

	pgxRows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: find")
	}
	defer pgxRows.Close()

	var out []model.Record
	for pgxRows.Next() {
		var doc []byte
		if err := pgxRows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "store: scan doc")
		}
		var rec model.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal doc")
		}
		out = append(out, rec)
	}
	if err := pgxRows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: find rows")
	}
	return out, nil
}

func (s *Postgres) MaxForecastDate(ctx context.Context, collection string) (time.Time, error) {
	var max *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT max(forecast_date) FROM records WHERE collection = $1`, collection,
	).Scan(&max)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "store: max forecast date")
	}
	if max == nil {
		return time.Time{}, nil
	}
	return max.UTC(), nil
}

func (s *Postgres) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, eris.Wrap(err, "store: delete expired")
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "store: ping")
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
