// Package mssql is the SQL Server side of the migration: a paged, read-only
// Source over database/sql and go-mssqldb, plus the bulk-copy seeder that
// fills the source catalog with generated rows.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
	"github.com/shopspring/decimal"

	"mssql2pg/internal/model"
	"mssql2pg/internal/storage"
)

var (
	_ storage.Source        = (*Store)(nil)
	_ storage.Seeder        = (*Store)(nil)
	_ storage.SchemaEnsurer = (*Store)(nil)
)

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (any, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Store reads from, and seeds, the SQL Server catalog.
type Store struct {
	db *sql.DB
}

// Open validates dsn, opens a pool and pings the server.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already opened pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() { _ = s.db.Close() }

// selectExpr renders the SELECT list entry for c. Extension types travel as
// text: hierarchyid through ToString(), spatial types through STAsText().
func selectExpr(c model.Column) string {
	switch c.Category {
	case model.FieldHierarchyPath:
		return fmt.Sprintf("%s.ToString() AS %s", msIdent(c.Source), msIdent(c.Source))
	case model.FieldGeometryText:
		return fmt.Sprintf("%s.STAsText() AS %s", msIdent(c.Source), msIdent(c.Source))
	}
	return msIdent(c.Source)
}

// orderBy maps the key columns of sch to source names.
func orderBy(sch model.TableSchema) string {
	keys := make([]string, len(sch.KeyColumns))
	for i, k := range sch.KeyColumns {
		keys[i] = msIdent(sch.Columns[sch.Index(k)].Source)
	}
	return strings.Join(keys, ", ")
}

// pageQuery returns the OFFSET/FETCH query for one page of k.
func pageQuery(k model.Kind) string {
	sch := model.Schema(k)
	exprs := make([]string, len(sch.Columns))
	for i, c := range sch.Columns {
		exprs[i] = selectExpr(c)
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s OFFSET @p1 ROWS FETCH NEXT @p2 ROWS ONLY",
		strings.Join(exprs, ", "), msFQN(sch.SourceTable), orderBy(sch))
}

// ReadPage returns up to limit rows of k in key order, starting at offset.
// Values are driver-native; NULL is nil.
func (s *Store) ReadPage(ctx context.Context, k model.Kind, offset, limit int) ([]model.Record, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("read %s: invalid page offset=%d limit=%d", k, offset, limit)
	}
	sch := model.Schema(k)
	rows, err := s.db.QueryContext(ctx, pageQuery(k), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", k, err)
	}
	defer rows.Close()

	out := make([]model.Record, 0, limit)
	for rows.Next() {
		cells := make([]cell, len(sch.Columns))
		dest := make([]any, len(sch.Columns))
		for i, c := range sch.Columns {
			cells[i] = newCell(c.Category)
			dest[i] = cells[i].dest()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", k, offset+len(out), err)
		}
		rec := make(model.Record, len(cells))
		for i, c := range cells {
			rec[i] = c.value()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", k, err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, k model.Kind) (int64, error) {
	var n int64
	q := "SELECT COUNT_BIG(*) FROM " + msFQN(model.Schema(k).SourceTable)
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", k, err)
	}
	return n, nil
}

var orphanQueries = map[model.Kind]string{
	model.KindProduct: `SELECT COUNT_BIG(*) FROM [dbo].[Products] p
LEFT JOIN [dbo].[Categories] c ON c.[Id] = p.[CategoryId]
WHERE c.[Id] IS NULL`,
	model.KindProductDetail: `SELECT COUNT_BIG(*) FROM [dbo].[ProductDetails] d
LEFT JOIN [dbo].[Products] p ON p.[Id] = d.[ProductId]
WHERE p.[Id] IS NULL`,
	model.KindProductTag: `SELECT COUNT_BIG(*) FROM [dbo].[ProductTags] pt
LEFT JOIN [dbo].[Products] p ON p.[Id] = pt.[ProductId]
LEFT JOIN [dbo].[Tags] t ON t.[Id] = pt.[TagId]
WHERE p.[Id] IS NULL OR t.[Id] IS NULL`,
}

func (s *Store) CountOrphans(ctx context.Context, k model.Kind) (int64, error) {
	q, ok := orphanQueries[k]
	if !ok {
		return 0, nil
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orphan %s: %w", k, err)
	}
	return n, nil
}

func (s *Store) TagNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT [Name] FROM [dbo].[Tags] ORDER BY [Id]")
	if err != nil {
		return nil, fmt.Errorf("tag names: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("tag names: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ProductSamples casts Price to varchar so the decimal keeps its exact
// digits.
func (s *Store) ProductSamples(ctx context.Context, n int) ([]model.ProductSample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT TOP (@p1) [Id], CAST([Price] AS varchar(40)), [CategoryId], [CreatedAt], [Checksum], [Image]
FROM [dbo].[Products] ORDER BY [Id]`, n)
	if err != nil {
		return nil, fmt.Errorf("product samples: %w", err)
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

// cell is a typed scan destination for one column.
type cell interface {
	dest() any
	value() any
}

type nullInt struct{ v sql.NullInt64 }

func (c *nullInt) dest() any { return &c.v }
func (c *nullInt) value() any {
	if !c.v.Valid {
		return nil
	}
	return c.v.Int64
}

type nullFloat struct{ v sql.NullFloat64 }

func (c *nullFloat) dest() any { return &c.v }
func (c *nullFloat) value() any {
	if !c.v.Valid {
		return nil
	}
	return c.v.Float64
}

type nullBool struct{ v sql.NullBool }

func (c *nullBool) dest() any { return &c.v }
func (c *nullBool) value() any {
	if !c.v.Valid {
		return nil
	}
	return c.v.Bool
}

type nullString struct{ v sql.NullString }

func (c *nullString) dest() any { return &c.v }
func (c *nullString) value() any {
	if !c.v.Valid {
		return nil
	}
	return c.v.String
}

type nullTime struct{ v sql.NullTime }

func (c *nullTime) dest() any { return &c.v }
func (c *nullTime) value() any {
	if !c.v.Valid {
		return nil
	}
	return c.v.Time
}

type nullDecimal struct{ v decimal.NullDecimal }

func (c *nullDecimal) dest() any { return &c.v }
func (c *nullDecimal) value() any {
	if !c.v.Valid {
		return nil
	}
	return c.v.Decimal
}

// guid scans the wire bytes of a uniqueidentifier; Scan fixes byte order.
type guid struct {
	raw []byte
}

func (c *guid) dest() any { return &c.raw }
func (c *guid) value() any {
	if c.raw == nil {
		return nil
	}
	var u mssql.UniqueIdentifier
	if err := u.Scan(c.raw); err != nil {
		// Leave the raw bytes; the normalizer rejects them with context.
		return c.raw
	}
	return u
}

type binary struct{ b []byte }

func (c *binary) dest() any  { return &c.b }
func (c *binary) value() any { return c.b }

func newCell(cat model.FieldCategory) cell {
	switch cat {
	case model.FieldInt16, model.FieldInt32, model.FieldInt64:
		return &nullInt{}
	case model.FieldDecimal:
		return &nullDecimal{}
	case model.FieldFloat32, model.FieldFloat64:
		return &nullFloat{}
	case model.FieldBool:
		return &nullBool{}
	case model.FieldIdentifier:
		return &guid{}
	case model.FieldBinary, model.FieldVersionStamp:
		return &binary{}
	case model.FieldTemporalNaive, model.FieldTemporalInstant, model.FieldDate:
		return &nullTime{}
	default:
		return &nullString{}
	}
}

// msIdent quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "dbo.Products" to
// "[dbo].[Products]".
func msFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = msIdent(p)
	}
	return strings.Join(parts, ".")
}

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = msIdent(c)
	}
	return out
}
