package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/tietoa/kpi-cli/internal/model"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
    id            TEXT PRIMARY KEY,
    collection    TEXT NOT NULL,
    forecast_date TEXT,
    doc           TEXT NOT NULL,
    inserted_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    expires_at    TEXT
);
CREATE INDEX IF NOT EXISTS records_collection_forecast_idx
    ON records (collection, forecast_date);
`

// SQLite is the file-backed (or in-memory) store for local runs and
// tests. Dates are stored as RFC 3339 text so lexical comparison
// matches chronological order.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path; ":memory:" works as expected.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	// modernc sqlite is not concurrency-safe across writers.
	conn.SetMaxOpenConns(1)
	return &SQLite{db: conn}, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return eris.Wrap(err, "store: migrate")
	}
	return nil
}

func sqliteTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *SQLite) Insert(ctx context.Context, collection string, rows []model.Record) error {
	return s.insert(ctx, collection, rows, nil)
}

func (s *SQLite) InsertExpiring(ctx context.Context, collection string, rows []model.Record, ttl time.Duration) error {
	expires := time.Now().UTC().Add(ttl)
	return s.insert(ctx, collection, rows, &expires)
}

func (s *SQLite) insert(ctx context.Context, collection string, rows []model.Record, expires *time.Time) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "store: begin")
	}
	defer tx.Rollback()

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
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (id, collection, forecast_date, doc, expires_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE
			 SET collection = excluded.collection, forecast_date = excluded.forecast_date,
			     doc = excluded.doc, expires_at = excluded.expires_at,
			     inserted_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
			id, collection, sqliteTime(rows[i].ForecastDate), string(doc), sqliteTime(expires))
		if err != nil {
			return eris.Wrap(err, "store: insert")
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "store: commit")
	}
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, collection string, rows []model.Record) (UpsertResult, error) {
	var res UpsertResult
	if len(rows) == 0 {
		return res, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "store: begin")
	}
	defer tx.Rollback()

	for i := range rows {
		doc, err := json.Marshal(rows[i])
		if err != nil {
			return res, eris.Wrap(err, "store: marshal record")
		}
		if rows[i].IdentityKey == "" {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO records (id, collection, forecast_date, doc) VALUES (?, ?, ?, ?)`,
				uuid.New().String(), collection, sqliteTime(rows[i].ForecastDate), string(doc))
			if err != nil {
				return res, eris.Wrap(err, "store: upsert insert")
			}
			res.Inserted++
			continue
		}

		// sqlite has no RETURNING (xmax = 0) equivalent, so check first.
		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT count(1) FROM records WHERE id = ?`, rows[i].IdentityKey).Scan(&exists)
		if err != nil {
			return res, eris.Wrap(err, "store: upsert check")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (id, collection, forecast_date, doc) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE
			 SET collection = excluded.collection, doc = excluded.doc,
			     forecast_date = excluded.forecast_date,
			     inserted_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
			rows[i].IdentityKey, collection, sqliteTime(rows[i].ForecastDate), string(doc))
		if err != nil {
			return res, eris.Wrap(err, "store: upsert")
		}
		if exists > 0 {
			res.Replaced++
		} else {
			res.Inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return res, eris.Wrap(err, "store: commit")
	}
	return res, nil
}

func (s *SQLite) Find(ctx context.Context, collection string, q Query) ([]model.Record, error) {
	query := `SELECT doc FROM records WHERE collection = ?`
	args := []any{collection}
	if q.ForecastDate != nil {
		query += ` AND forecast_date = ?`
		args = append(args, sqliteTime(q.ForecastDate))
	} else if !q.Span.IsEmpty() {
		start, end := q.Span.Start(), q.Span.End()
		query += ` AND forecast_date >= ? AND forecast_date <= ?`
		args = append(args, sqliteTime(&start), sqliteTime(&end))
	}
	query += ` ORDER BY forecast_date, id`

	dbRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: find")
	}
	defer dbRows.Close()

	var out []model.Record
	for dbRows.Next() {
		var doc string
		if err := dbRows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "store: scan doc")
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal doc")
		}
		out = append(out, rec)
	}
	if err := dbRows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: find rows")
	}
	return out, nil
}

func (s *SQLite) MaxForecastDate(ctx context.Context, collection string) (time.Time, error) {
	var max sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT max(forecast_date) FROM records WHERE collection = ?`, collection).Scan(&max)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "store: max forecast date")
	}
	if !max.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, max.String)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "store: parse forecast date")
	}
	return t.UTC(), nil
}

func (s *SQLite) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, eris.Wrap(err, "store: delete expired")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "store: rows affected")
	}
	return n, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return eris.Wrap(err, "store: ping")
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
