// Package postgres is the PostgreSQL target store. Every batch is bulk
// copied with pgx CopyFrom inside its own transaction; the target tables are
// emptied with TRUNCATE ... RESTART IDENTITY CASCADE before a run.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"mssql2pg/internal/model"
	"mssql2pg/internal/storage"
	"mssql2pg/pkg/logger"
)

var (
	_ storage.Target        = (*Store)(nil)
	_ storage.SchemaEnsurer = (*Store)(nil)
)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (any, error) {
		return Open(ctx, cfg.DSN)
	})
}

// pgPool is the subset of *pgxpool.Pool the store uses. Tests substitute a
// fake.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements storage.Target on a pgx pool.
type Store struct {
	pool pgPool
}

// Open connects to dsn and pings the server.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the target tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", describe(err))
		}
	}
	logger.Debug("target schema ensured", logger.Fields{"tables": len(model.DependencyOrder())})
	return nil
}

// Reset truncates every table in one statement, children first, and restarts
// the identity sequences.
func (s *Store) Reset(ctx context.Context) error {
	order := model.ReverseDependencyOrder()
	tables := make([]string, len(order))
	for i, k := range order {
		tables[i] = pgIdent(model.Schema(k).TargetTable)
	}
	q := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("truncate: %w", describe(err))
	}
	return nil
}

// WriteBatch bulk copies recs into the table of k and commits. Nothing is
// kept once it returns.
func (s *Store) WriteBatch(ctx context.Context, k model.Kind, recs []model.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	sch := model.Schema(k)
	rows := make([][]any, len(recs))
	for i, r := range recs {
		if len(r) != len(sch.Columns) {
			return 0, fmt.Errorf("bulk row %d: %d values, want %d", i, len(r), len(sch.Columns))
		}
		rows[i] = r
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{sch.TargetTable}, sch.TargetColumns(), pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", sch.TargetTable, describe(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit %s: %w", sch.TargetTable, describe(err))
	}
	return n, nil
}

// SyncIdentity moves the identity sequence of k to MAX(id). An empty table
// resets it so the next generated id is 1.
func (s *Store) SyncIdentity(ctx context.Context, k model.Kind) error {
	sch := model.Schema(k)
	if !sch.Identity {
		return nil
	}
	q := fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence($1, 'id'), COALESCE(MAX(id), 1), MAX(id) IS NOT NULL) FROM %s",
		pgIdent(sch.TargetTable))
	var v int64
	if err := s.pool.QueryRow(ctx, q, sch.TargetTable).Scan(&v); err != nil {
		return fmt.Errorf("sync identity %s: %w", sch.TargetTable, describe(err))
	}
	return nil
}

func (s *Store) Count(ctx context.Context, k model.Kind) (int64, error) {
	q := "SELECT COUNT(*) FROM " + pgIdent(model.Schema(k).TargetTable)
	var n int64
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", k, describe(err))
	}
	return n, nil
}

var orphanQueries = map[model.Kind]string{
	model.KindProduct: `SELECT COUNT(*) FROM "products" p
LEFT JOIN "categories" c ON c."id" = p."category_id"
WHERE c."id" IS NULL`,
	model.KindProductDetail: `SELECT COUNT(*) FROM "product_details" d
LEFT JOIN "products" p ON p."id" = d."product_id"
WHERE p."id" IS NULL`,
	model.KindProductTag: `SELECT COUNT(*) FROM "product_tags" pt
LEFT JOIN "products" p ON p."id" = pt."product_id"
LEFT JOIN "tags" t ON t."id" = pt."tag_id"
WHERE p."id" IS NULL OR t."id" IS NULL`,
}

func (s *Store) CountOrphans(ctx context.Context, k model.Kind) (int64, error) {
	q, ok := orphanQueries[k]
	if !ok {
		return 0, nil
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orphan %s: %w", k, describe(err))
	}
	return n, nil
}

func (s *Store) TagNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT "name" FROM "tags" ORDER BY "id"`)
	if err != nil {
		return nil, fmt.Errorf("tag names: %w", describe(err))
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("tag names: %w", err)
	}
	return names, nil
}

// ProductSamples reads price as text so the decimal keeps its exact digits.
func (s *Store) ProductSamples(ctx context.Context, n int) ([]model.ProductSample, error) {
	rows, err := s.pool.Query(ctx, `SELECT "id", "price"::text, "category_id", "created_at", "checksum", "image"
FROM "products" ORDER BY "id" LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("product samples: %w", describe(err))
	}
	defer rows.Close()

	var out []model.ProductSample
	for rows.Next() {
		var (
			ps    model.ProductSample
			price string
			when  time.Time
		)
		if err := rows.Scan(&ps.ID, &price, &ps.CategoryID, &when, &ps.Checksum, &ps.Image); err != nil {
			return nil, fmt.Errorf("product samples scan: %w", err)
		}
		if ps.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("product %d price %q: %w", ps.ID, price, err)
		}
		ps.CreatedAt = when
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("product samples: %w", err)
	}
	return out, nil
}

// describe adds the server's message and detail to a PgError so constraint
// failures are readable in logs. Other errors pass through.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%s (%s): %w", pgErr.Message, pgErr.Detail, err)
	}
	return err
}

// pgIdent quotes a single identifier.
func pgIdent(s string) string { return pgx.Identifier{s}.Sanitize() }

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
