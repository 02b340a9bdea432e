package mssql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"mssql2pg/internal/model"
	"mssql2pg/pkg/logger"
)

// copyRowsPerBatch is the RowsPerBatch hint sent with every bulk copy.
const copyRowsPerBatch = 1000

// Foreign key columns, by target name, and the kind they point at.
var parents = map[string]model.Kind{
	"category_id": model.KindCategory,
	"product_id":  model.KindProduct,
	"tag_id":      model.KindTag,
}

// reseedSQL resets an identity so the next row gets 1. A table that never
// held a row already starts at its seed, and RESEED 0 there would hand out 0,
// so it is left alone.
func reseedSQL(fqn string) string {
	return fmt.Sprintf("IF EXISTS (SELECT 1 FROM sys.identity_columns WHERE object_id = OBJECT_ID(N'%[1]s') AND last_value IS NOT NULL) "+
		"DBCC CHECKIDENT (N'%[1]s', RESEED, 0)", fqn)
}

// Wipe deletes every catalog row, children first, and reseeds each identity
// column that has handed out values.
func (s *Store) Wipe(ctx context.Context) error {
	for _, k := range model.ReverseDependencyOrder() {
		sch := model.Schema(k)
		fqn := msFQN(sch.SourceTable)
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+fqn); err != nil {
			return fmt.Errorf("wipe %s: %w", sch.SourceTable, err)
		}
		if !sch.Identity {
			continue
		}
		if _, err := s.db.ExecContext(ctx, reseedSQL(fqn)); err != nil {
			return fmt.Errorf("reseed %s: %w", sch.SourceTable, err)
		}
	}
	return nil
}

// Load bulk copies data into the catalog in dependency order. Identity
// columns are left to the server; after each identity kind the assigned ids
// are read back in order and the foreign keys of later kinds are rewritten
// to them. Extension columns (hierarchyid, geography, geometry) cannot go
// through bulk copy and are set afterwards with one UPDATE per product.
func (s *Store) Load(ctx context.Context, data map[model.Kind][]model.Record) (model.Counts, error) {
	counts := model.Counts{}
	idmap := map[model.Kind]map[int64]int64{}

	for _, k := range model.DependencyOrder() {
		recs := data[k]
		sch := model.Schema(k)
		idx := copyColumns(sch)
		names := make([]string, len(idx))
		for j, ci := range idx {
			names[j] = sch.Columns[ci].Source
		}

		rows := make([][]any, len(recs))
		for i, r := range recs {
			if len(r) != len(sch.Columns) {
				return counts, fmt.Errorf("seed %s row %d: %d values, want %d", k, i, len(r), len(sch.Columns))
			}
			row := make([]any, len(idx))
			for j, ci := range idx {
				v := r[ci]
				if parent, ok := parents[sch.Columns[ci].Target]; ok && parent != k {
					mapped, err := remap(idmap[parent], v)
					if err != nil {
						return counts, fmt.Errorf("seed %s row %d %s: %w", k, i, sch.Columns[ci].Source, err)
					}
					v = mapped
				}
				row[j] = toCopyVal(v)
			}
			rows[i] = row
		}

		start := time.Now()
		n, err := s.copyIn(ctx, sch.SourceTable, names, rows)
		if err != nil {
			return counts, fmt.Errorf("seed %s: %w", k, err)
		}
		counts[k] = n
		logger.Info("seeded", logger.Fields{"entity": string(k), "rows": n, "elapsed": time.Since(start).String()})

		if !sch.Identity {
			continue
		}
		ids, err := s.readIDs(ctx, sch.SourceTable)
		if err != nil {
			return counts, fmt.Errorf("seed %s: %w", k, err)
		}
		if len(ids) != len(recs) {
			return counts, fmt.Errorf("seed %s: read back %d ids, copied %d rows", k, len(ids), len(recs))
		}
		m := make(map[int64]int64, len(ids))
		for i, r := range recs {
			gen, ok := asInt64(r[0])
			if !ok {
				return counts, fmt.Errorf("seed %s row %d: id %T is not an integer", k, i, r[0])
			}
			m[gen] = ids[i]
		}
		idmap[k] = m

		if k == model.KindProduct {
			if err := s.applyExtensions(ctx, sch, recs, m); err != nil {
				return counts, fmt.Errorf("seed %s: %w", k, err)
			}
		}
	}
	return counts, nil
}

// copyColumns returns the positions of the columns bulk copy can write:
// everything but the identity, the server-generated row version and the
// extension types.
func copyColumns(sch model.TableSchema) []int {
	var out []int
	for i, c := range sch.Columns {
		switch {
		case sch.Identity && c.Target == "id":
		case c.Category == model.FieldVersionStamp:
		case c.Category == model.FieldHierarchyPath, c.Category == model.FieldGeometryText:
		default:
			out = append(out, i)
		}
	}
	return out
}

// copyIn bulk inserts rows into table inside one transaction.
func (s *Store) copyIn(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	opts := mssql.BulkOptions{CheckConstraints: true, KeepNulls: true, RowsPerBatch: copyRowsPerBatch, Tablock: true}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, opts, columns...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (s *Store) readIDs(ctx context.Context, table string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT [Id] FROM %s ORDER BY [Id]", msFQN(table)))
	if err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("read ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const updateExtensions = `UPDATE [dbo].[Products]
SET [CategoryPath] = hierarchyid::Parse(@p1),
    [WarehouseLocation] = geography::STGeomFromText(@p2, 4326),
    [ShapeOutline] = geometry::STGeomFromText(@p3, 0)
WHERE [Id] = @p4`

func (s *Store) applyExtensions(ctx context.Context, sch model.TableSchema, recs []model.Record, ids map[int64]int64) error {
	pi, wi, si := sch.Index("category_path"), sch.Index("warehouse_location"), sch.Index("shape_outline")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, updateExtensions)
	if err != nil {
		return fmt.Errorf("prepare extensions: %w", err)
	}
	defer stmt.Close()

	updated := 0
	for i, r := range recs {
		path, loc, shape := toCopyVal(r[pi]), toCopyVal(r[wi]), toCopyVal(r[si])
		if path == nil && loc == nil && shape == nil {
			continue
		}
		gen, _ := asInt64(r[0])
		if _, err := stmt.ExecContext(ctx, path, loc, shape, ids[gen]); err != nil {
			return fmt.Errorf("extensions row %d: %w", i, err)
		}
		updated++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logger.Debug("product extension columns set", logger.Fields{"rows": updated})
	return nil
}

func remap(ids map[int64]int64, v any) (int64, error) {
	gen, ok := asInt64(v)
	if !ok {
		return 0, fmt.Errorf("foreign key %T is not an integer", v)
	}
	actual, ok := ids[gen]
	if !ok {
		return 0, fmt.Errorf("foreign key %d has no parent row", gen)
	}
	return actual, nil
}

// toCopyVal converts model values into types the bulk copy encoder accepts;
// nil and nil pointers become NULL.
func toCopyVal(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case decimal.Decimal:
		return x.String()
	case decimal.NullDecimal:
		if !x.Valid {
			return nil
		}
		return x.Decimal.String()
	case uuid.UUID:
		// uniqueidentifier travels in SQL Server's mixed-endian byte order.
		b, _ := mssql.UniqueIdentifier(x).Value()
		return b
	case []byte:
		if x == nil {
			return nil
		}
		return x
	}
	return v
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	}
	return 0, false
}
