package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tietoa/kpi-cli/internal/model"
)

// newMockPostgres creates a Postgres store backed by pgxmock.
func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &Postgres{pool: mock}, mock
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS records`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Upsert_InsertedVsReplaced(t *testing.T) {
	s, mock := newMockPostgres(t)

	fd := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []model.Record{
		{IdentityKey: "aaa", Subtype: model.SubtypeBilling, Value: 100, ForecastDate: &fd},
		{IdentityKey: "bbb", Subtype: model.SubtypeBilling, Value: 200, ForecastDate: &fd},
		{Subtype: model.SubtypeBilling, Value: 50, ForecastDate: &fd},
	}

	batch := mock.ExpectBatch()
	// The conflict update must rewrite collection too, so a row whose
	// source collection changed does not linger under the old one.
	batch.ExpectQuery(`ON CONFLICT \(id\) DO UPDATE\s+SET collection = EXCLUDED\.collection`).
		WithArgs("aaa", CollectionBilling, &fd, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(true))
	batch.ExpectQuery(`ON CONFLICT \(id\) DO UPDATE\s+SET collection = EXCLUDED\.collection`).
		WithArgs("bbb", CollectionBilling, &fd, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(false))
	batch.ExpectExec(`INSERT INTO records`).
		WithArgs(pgxmock.AnyArg(), CollectionBilling, &fd, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res, err := s.Upsert(context.Background(), CollectionBilling, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Replaced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Upsert_Empty(t *testing.T) {
	s, mock := newMockPostgres(t)

	res, err := s.Upsert(context.Background(), CollectionHours, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, res.Replaced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertExpiring_KeyedRowRefreshedInPlace(t *testing.T) {
	s, mock := newMockPostgres(t)

	rows := []model.Record{{IdentityKey: "case-1/design", Subtype: model.SubtypeSalesvalue, Value: 1}}

	// Diagnostics keep one deterministic key per finding, so a second run
	// inside the TTL rewrites the row instead of violating the key.
	batch := mock.ExpectBatch()
	batch.ExpectExec(`expires_at = EXCLUDED\.expires_at`).
		WithArgs("case-1/design", CollectionInvalidSales, (*time.Time)(nil), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.InsertExpiring(context.Background(), CollectionInvalidSales, rows, 23*time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Find_BySnapshot(t *testing.T) {
	s, mock := newMockPostgres(t)

	fd := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT doc FROM records WHERE collection = \$1 AND forecast_date = \$2`).
		WithArgs(CollectionHours, fd).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"id":"workhours","user":"u1","value":7.5}`)).
			AddRow([]byte(`{"id":"absences","user":"u2","value":1}`)))

	got, err := s.Find(context.Background(), CollectionHours, Query{ForecastDate: &fd})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.SubtypeWorkhours, got[0].Subtype)
	assert.Equal(t, "u1", got[0].User)
	assert.Equal(t, 7.5, got[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MaxForecastDate_Empty(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT max\(forecast_date\) FROM records`).
		WithArgs(CollectionSales).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow((*time.Time)(nil)))

	got, err := s.MaxForecastDate(context.Background(), CollectionSales)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteExpired(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`DELETE FROM records WHERE expires_at IS NOT NULL`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
