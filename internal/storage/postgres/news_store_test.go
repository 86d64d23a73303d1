package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govbrnews/harvester/internal/harvest"
)

func newMockStore(t *testing.T) (*NewsStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewNewsStoreWithPool(mock, nil)
	require.NoError(t, err)
	return store, mock
}

func expectCacheLoad(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`SELECT id, key, name FROM agencies`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "key", "name"}).
			AddRow(int64(1), "secom", "Secretaria de Comunicação Social").
			AddRow(int64(2), "mcti", "Ministério da Ciência, Tecnologia e Inovação"))
	mock.ExpectQuery(`SELECT id, code, label, level FROM themes`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "code", "label", "level"}).
			AddRow(int64(10), "06", "Ciência e Tecnologia", 1).
			AddRow(int64(11), "06.01", "Pesquisa", 2))
}

func testRecord(agency, title string) harvest.Record {
	published := time.Date(2026, 2, 10, 17, 5, 0, 0, time.UTC)
	return harvest.Record{
		UniqueID:    harvest.UniqueID(agency, published, title),
		Agency:      agency,
		Title:       title,
		URL:         "https://www.gov.br/" + agency + "/noticia",
		Content:     "corpo",
		Tags:        []string{},
		PublishedAt: published,
		ExtractedAt: published.Add(time.Hour),
	}
}

// anyInsertArgs matches the full placeholder list for n records; the
// argument values themselves are covered by the query-shape tests.
func anyInsertArgs(records int) []any {
	args := make([]any, records*len(insertColumns))
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func insertedRows(records ...harvest.Record) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"unique_id", "agency_key", "published_at", "inserted"})
	for _, r := range records {
		rows.AddRow(r.UniqueID, r.Agency, r.PublishedAt, true)
	}
	return rows
}

func TestInsertEmptyInputIsError(t *testing.T) {
	store, mock := newMockStore(t)

	_, _, err := store.Insert(context.Background(), nil, false)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLoadsCacheOnce(t *testing.T) {
	store, mock := newMockStore(t)
	expectCacheLoad(mock)

	first := testRecord("secom", "primeira")
	second := testRecord("mcti", "segunda")
	mock.ExpectQuery(`INSERT INTO news`).WithArgs(anyInsertArgs(1)...).WillReturnRows(insertedRows(first))
	mock.ExpectQuery(`INSERT INTO news`).WithArgs(anyInsertArgs(1)...).WillReturnRows(insertedRows(second))

	ctx := context.Background()
	_, _, err := store.Insert(ctx, []harvest.Record{first}, false)
	require.NoError(t, err)
	_, _, err = store.Insert(ctx, []harvest.Record{second}, false)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRetriesFailedCacheLoad(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, key, name FROM agencies`).
		WillReturnError(errors.New("connection refused"))

	rec := testRecord("secom", "uma")
	_, _, err := store.Insert(context.Background(), []harvest.Record{rec}, false)
	require.Error(t, err)

	expectCacheLoad(mock)
	mock.ExpectQuery(`INSERT INTO news`).WithArgs(anyInsertArgs(1)...).WillReturnRows(insertedRows(rec))

	saved, stored, err := store.Insert(context.Background(), []harvest.Record{rec}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Len(t, stored, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDropsUnknownAgency(t *testing.T) {
	store, mock := newMockStore(t)
	expectCacheLoad(mock)

	known := testRecord("secom", "conhecida")
	unknown := testRecord("orgao-fantasma", "desconhecida")
	mock.ExpectQuery(`INSERT INTO news`).WithArgs(anyInsertArgs(1)...).WillReturnRows(insertedRows(known))

	saved, stored, err := store.Insert(context.Background(), []harvest.Record{known, unknown}, false)

	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	require.Len(t, stored, 1)
	assert.Equal(t, known.UniqueID, stored[0].UniqueID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAllUnknownAgenciesIsNoop(t *testing.T) {
	store, mock := newMockStore(t)
	expectCacheLoad(mock)

	saved, stored, err := store.Insert(context.Background(),
		[]harvest.Record{testRecord("orgao-fantasma", "x")}, false)

	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Nil(t, stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrIgnoreQueryShape(t *testing.T) {
	store, mock := newMockStore(t)
	expectCacheLoad(mock)

	rec := testRecord("secom", "uma")
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (unique_id) DO NOTHING")).
		WithArgs(anyInsertArgs(1)...).
		WillReturnRows(insertedRows(rec))

	_, _, err := store.Insert(context.Background(), []harvest.Record{rec}, false)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUpdateQueryShape(t *testing.T) {
	store, mock := newMockStore(t)
	expectCacheLoad(mock)

	rec := testRecord("secom", "uma")
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (unique_id) DO UPDATE SET")).
		WithArgs(anyInsertArgs(1)...).
		WillReturnRows(insertedRows(rec))

	_, _, err := store.Insert(context.Background(), []harvest.Record{rec}, true)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSeparatesUpdatedFromInserted(t *testing.T) {
	store, mock := newMockStore(t)
	expectCacheLoad(mock)

	fresh := testRecord("secom", "nova")
	existing := testRecord("mcti", "já existente")
	rows := pgxmock.NewRows([]string{"unique_id", "agency_key", "published_at", "inserted"}).
		AddRow(fresh.UniqueID, fresh.Agency, fresh.PublishedAt, true).
		AddRow(existing.UniqueID, existing.Agency, existing.PublishedAt, false)
	mock.ExpectQuery(`INSERT INTO news`).WithArgs(anyInsertArgs(2)...).WillReturnRows(rows)

	saved, stored, err := store.Insert(context.Background(),
		[]harvest.Record{fresh, existing}, true)

	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	require.Len(t, stored, 1)
	assert.Equal(t, fresh.UniqueID, stored[0].UniqueID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertQueryFailure(t *testing.T) {
	store, mock := newMockStore(t)
	expectCacheLoad(mock)

	mock.ExpectQuery(`INSERT INTO news`).WithArgs(anyInsertArgs(1)...).WillReturnError(errors.New("deadlock detected"))

	_, _, err := store.Insert(context.Background(),
		[]harvest.Record{testRecord("secom", "uma")}, false)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert news")
}

func TestInsertDeduplicatesBatchByIdentityKey(t *testing.T) {
	store, mock := newMockStore(t)
	expectCacheLoad(mock)

	rec := testRecord("secom", "repetida")
	duplicate := rec
	// the duplicate row would make DO UPDATE fail server-side, so only one
	// row's placeholders may reach the statement
	mock.ExpectQuery(`INSERT INTO news`).WithArgs(anyInsertArgs(1)...).WillReturnRows(insertedRows(rec))

	saved, stored, err := store.Insert(context.Background(),
		[]harvest.Record{rec, duplicate}, true)

	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Len(t, stored, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCarriesSummaryColumn(t *testing.T) {
	store, mock := newMockStore(t)
	expectCacheLoad(mock)

	rec := testRecord("secom", "uma")
	// legacy table compatibility: summary stays in the column list even
	// though the scraper never fills it
	mock.ExpectQuery(regexp.QuoteMeta("subtitle, summary, published_at")).
		WithArgs(anyInsertArgs(1)...).
		WillReturnRows(insertedRows(rec))

	_, _, err := store.Insert(context.Background(), []harvest.Record{rec}, false)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictClauseExcludesImmutableColumns(t *testing.T) {
	clause := conflictClause(true)

	assert.NotContains(t, clause, "unique_id = EXCLUDED")
	assert.NotContains(t, clause, "agency_id = EXCLUDED")
	assert.NotContains(t, clause, "published_at = EXCLUDED")
	assert.Contains(t, clause, "title = EXCLUDED.title")
	assert.Contains(t, clause, "updated_at = NOW()")
}
