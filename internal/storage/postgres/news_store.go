// Package postgres provides the Postgres-backed news storage gateway.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/govbrnews/harvester/internal/harvest"
)

// NewsStoreConfig controls the Postgres connection pool.
type NewsStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the slice of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type dbPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Agency is one row of the agencies lookup table.
type Agency struct {
	ID   int64
	Key  string
	Name string
}

// Theme is one row of the themes taxonomy table.
type Theme struct {
	ID    int64
	Code  string
	Label string
	Level int
}

// NewsStore performs idempotent batch upserts of canonical records. The
// agency and theme lookup tables are loaded into memory once per process;
// an out-of-band taxonomy change requires a restart.
type NewsStore struct {
	pool   dbPool
	logger *zap.Logger

	mu            sync.Mutex
	cacheLoaded   bool
	agenciesByKey map[string]Agency
	agenciesByID  map[int64]Agency
	themesByCode  map[string]Theme
	themesByID    map[int64]Theme
}

// NewNewsStore creates a Postgres-backed NewsStore using the provided config.
func NewNewsStore(ctx context.Context, cfg NewsStoreConfig, logger *zap.Logger) (*NewsStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newStore(pool, logger), nil
}

// NewNewsStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewNewsStoreWithPool(pool dbPool, logger *zap.Logger) (*NewsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newStore(pool, logger), nil
}

func newStore(pool dbPool, logger *zap.Logger) *NewsStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NewsStore{pool: pool, logger: logger}
}

// Close releases the underlying pool resources.
func (s *NewsStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// LoadCache loads the agency and theme lookup tables into memory. It is
// guarded so concurrent first-callers load at most once; a failed load is
// retried on the next call. After a successful load the cache is
// read-only and safe to share.
func (s *NewsStore) LoadCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	agenciesByKey := make(map[string]Agency)
	agenciesByID := make(map[int64]Agency)
	rows, err := s.pool.Query(ctx, `SELECT id, key, name FROM agencies`)
	if err != nil {
		return fmt.Errorf("load agencies: %w", err)
	}
	for rows.Next() {
		var a Agency
		if err := rows.Scan(&a.ID, &a.Key, &a.Name); err != nil {
			rows.Close()
			return fmt.Errorf("scan agency: %w", err)
		}
		agenciesByKey[a.Key] = a
		agenciesByID[a.ID] = a
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate agencies: %w", err)
	}

	themesByCode := make(map[string]Theme)
	themesByID := make(map[int64]Theme)
	rows, err = s.pool.Query(ctx, `SELECT id, code, label, level FROM themes`)
	if err != nil {
		return fmt.Errorf("load themes: %w", err)
	}
	for rows.Next() {
		var t Theme
		if err := rows.Scan(&t.ID, &t.Code, &t.Label, &t.Level); err != nil {
			rows.Close()
			return fmt.Errorf("scan theme: %w", err)
		}
		themesByCode[t.Code] = t
		themesByID[t.ID] = t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate themes: %w", err)
	}

	s.agenciesByKey = agenciesByKey
	s.agenciesByID = agenciesByID
	s.themesByCode = themesByCode
	s.themesByID = themesByID
	s.cacheLoaded = true
	s.logger.Info("lookup cache loaded",
		zap.Int("agencies", len(agenciesByKey)),
		zap.Int("themes", len(themesByCode)),
	)
	return nil
}

// insertColumns is the news table column order used by the batch upsert.
var insertColumns = []string{
	"unique_id",
	"agency_id",
	"theme_l1_id",
	"theme_l2_id",
	"theme_l3_id",
	"most_specific_theme_id",
	"title",
	"url",
	"image_url",
	"video_url",
	"category",
	"tags",
	"content",
	"editorial_lead",
	"subtitle",
	"summary",
	"published_at",
	"updated_datetime",
	"extracted_at",
	"agency_key",
	"agency_name",
}

// immutableColumns never change once a row exists; updates exclude them.
var immutableColumns = map[string]bool{
	"unique_id":    true,
	"agency_id":    true,
	"published_at": true,
}

// Insert performs a single batched upsert keyed by unique_id. With
// allowUpdate false existing rows are left untouched; with allowUpdate
// true existing rows are overwritten except for the immutable columns.
// Records whose agency is unknown are dropped with a warning. The
// returned metadata covers only rows that were newly inserted.
func (s *NewsStore) Insert(
	ctx context.Context,
	records []harvest.Record,
	allowUpdate bool,
) (int, []harvest.StoredRecord, error) {
	if len(records) == 0 {
		return 0, nil, fmt.Errorf("records list cannot be empty")
	}
	if err := s.LoadCache(ctx); err != nil {
		return 0, nil, err
	}

	var args []any
	var rowsSQL []string
	placeholder := 0
	next := func() string {
		placeholder++
		return fmt.Sprintf("$%d", placeholder)
	}

	kept := 0
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		// A repeated identity key in one statement makes DO UPDATE fail
		// with "cannot affect row a second time"; bulk mode can produce
		// cross-page duplicates, so keep the first occurrence only.
		if seen[r.UniqueID] {
			s.logger.Debug("skipping duplicate record in batch",
				zap.String("unique_id", r.UniqueID),
			)
			continue
		}
		seen[r.UniqueID] = true

		agency, ok := s.agenciesByKey[r.Agency]
		if !ok {
			s.logger.Warn("dropping record with unknown agency",
				zap.String("agency", r.Agency),
				zap.String("unique_id", r.UniqueID),
			)
			continue
		}
		kept++

		values := []any{
			r.UniqueID,
			agency.ID,
			s.resolveThemeID(r.ThemeL1Code),
			s.resolveThemeID(r.ThemeL2Code),
			s.resolveThemeID(r.ThemeL3Code),
			s.resolveThemeID(r.MostSpecificThemeCode),
			r.Title,
			r.URL,
			nullString(r.ImageURL),
			nullString(r.VideoURL),
			nullString(r.Category),
			r.Tags,
			r.Content,
			nullString(r.EditorialLead),
			nullString(r.Subtitle),
			// summary is produced by downstream enrichment, never by the
			// scraper; inserted null to stay column-compatible.
			nil,
			r.PublishedAt,
			r.UpdatedAt,
			r.ExtractedAt,
			agency.Key,
			agency.Name,
		}
		marks := make([]string, len(values))
		for i := range values {
			marks[i] = next()
		}
		args = append(args, values...)
		rowsSQL = append(rowsSQL, "("+strings.Join(marks, ",")+")")
	}

	if kept == 0 {
		s.logger.Warn("no insertable records after agency resolution",
			zap.Int("dropped", len(records)),
		)
		return 0, nil, nil
	}

	query := fmt.Sprintf(
		"INSERT INTO news (%s) VALUES %s %s RETURNING unique_id, agency_key, published_at, (xmax = 0) AS inserted",
		strings.Join(insertColumns, ", "),
		strings.Join(rowsSQL, ","),
		conflictClause(allowUpdate),
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("insert news: %w", err)
	}
	defer rows.Close()

	affected := 0
	var stored []harvest.StoredRecord
	for rows.Next() {
		var (
			rec      harvest.StoredRecord
			inserted bool
		)
		if err := rows.Scan(&rec.UniqueID, &rec.Agency, &rec.PublishedAt, &inserted); err != nil {
			return 0, nil, fmt.Errorf("scan inserted row: %w", err)
		}
		affected++
		if inserted {
			stored = append(stored, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate inserted rows: %w", err)
	}

	s.logger.Info("news batch stored",
		zap.Int("records", kept),
		zap.Int("affected", affected),
		zap.Int("newly_inserted", len(stored)),
		zap.Bool("allow_update", allowUpdate),
	)
	return affected, stored, nil
}

// conflictClause renders the upsert behavior: insert-or-ignore by
// default, overwrite of mutable columns when updates are allowed.
func conflictClause(allowUpdate bool) string {
	if !allowUpdate {
		return "ON CONFLICT (unique_id) DO NOTHING"
	}
	var sets []string
	for _, col := range insertColumns {
		if immutableColumns[col] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	sets = append(sets, "updated_at = NOW()")
	return "ON CONFLICT (unique_id) DO UPDATE SET " + strings.Join(sets, ", ")
}

func (s *NewsStore) resolveThemeID(code string) any {
	if code == "" {
		return nil
	}
	theme, ok := s.themesByCode[code]
	if !ok {
		return nil
	}
	return theme.ID
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
