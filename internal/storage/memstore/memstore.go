// Package memstore is an in-memory Source and Target. It enforces the same
// keys and foreign keys the PostgreSQL schema declares, so pipeline and
// validator behavior can be exercised without a database. It also backs the
// "memory" engine, a dry-run target.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"mssql2pg/internal/model"
	"mssql2pg/internal/storage"
)

// ErrConstraint is wrapped by every key, uniqueness and foreign key violation.
var ErrConstraint = errors.New("constraint violation")

var (
	_ storage.Source = (*Store)(nil)
	_ storage.Target = (*Store)(nil)
	_ storage.Seeder = (*Store)(nil)
)

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (any, error) {
		return New(), nil
	})
}

// rowKey is a primary key; composite keys use both slots.
type rowKey [2]int64

func (k rowKey) less(o rowKey) bool {
	if k[0] != o[0] {
		return k[0] < o[0]
	}
	return k[1] < o[1]
}

// table holds one kind's rows in key order together with its key and unique
// value sets, all maintained on insert.
type table struct {
	rows []model.Record
	keys map[rowKey]bool
	uniq map[string]map[any]bool
}

func newTable(k model.Kind) *table {
	t := &table{keys: map[rowKey]bool{}, uniq: map[string]map[any]bool{}}
	for _, col := range uniqueColumns(k) {
		t.uniq[col] = map[any]bool{}
	}
	return t
}

// Store keeps rows per kind. The zero value is not usable; call New.
type Store struct {
	mu        sync.RWMutex
	tables    map[model.Kind]*table
	identity  map[model.Kind]int64
	batches   map[model.Kind]int
	failWrite map[model.Kind]error
	failRead  map[model.Kind]error
	closed    bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tables:    map[model.Kind]*table{},
		identity:  map[model.Kind]int64{},
		batches:   map[model.Kind]int{},
		failWrite: map[model.Kind]error{},
		failRead:  map[model.Kind]error{},
	}
}

// Seed appends records without any constraint checks. Tests use it to build
// sources, including deliberately broken ones.
func (s *Store) Seed(k model.Kind, recs ...model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.appendLocked(k, r)
	}
}

// FailWrite makes every following WriteBatch for k return err. A nil err
// clears the fault.
func (s *Store) FailWrite(k model.Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite[k] = err
}

// FailRead makes every following ReadPage for k return err.
func (s *Store) FailRead(k model.Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRead[k] = err
}

// Rows returns a snapshot of kind k in key order.
func (s *Store) Rows(k model.Kind) []model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRows(s.rowsLocked(k))
}

// Batches returns how many WriteBatch calls committed for k.
func (s *Store) Batches(k model.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches[k]
}

// Identity returns the next identity value SyncIdentity computed for k.
func (s *Store) Identity(k model.Kind) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity[k]
}

// Close marks the store closed; later calls still work.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) Count(ctx context.Context, k model.Kind) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rowsLocked(k))), nil
}

func (s *Store) CountOrphans(ctx context.Context, k model.Kind) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.rowsLocked(k) {
		if s.missingParentLocked(k, r) != "" {
			n++
		}
	}
	return n, nil
}

func (s *Store) TagNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := model.Schema(model.KindTag).Index("name")
	tags := s.rowsLocked(model.KindTag)
	out := make([]string, 0, len(tags))
	for _, r := range tags {
		if name, ok := r[idx].(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *Store) ProductSamples(ctx context.Context, n int) ([]model.ProductSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sch := model.Schema(model.KindProduct)
	rows := s.rowsLocked(model.KindProduct)
	if n < len(rows) {
		rows = rows[:n]
	}
	out := make([]model.ProductSample, 0, len(rows))
	for _, r := range rows {
		id, _ := asInt64(r[sch.Index("id")])
		cat, _ := asInt64(r[sch.Index("category_id")])
		price, err := asDecimal(r[sch.Index("price")])
		if err != nil {
			return nil, fmt.Errorf("product %d price: %w", id, err)
		}
		created, _ := deref(r[sch.Index("created_at")]).(time.Time)
		checksum, _ := r[sch.Index("checksum")].([]byte)
		image, _ := r[sch.Index("image")].([]byte)
		out = append(out, model.ProductSample{
			ID:         int32(id),
			Price:      price,
			CategoryID: int32(cat),
			CreatedAt:  created,
			Checksum:   checksum,
			Image:      image,
		})
	}
	return out, nil
}

func (s *Store) ReadPage(ctx context.Context, k model.Kind, offset, limit int) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("read %s: invalid page offset=%d limit=%d", k, offset, limit)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failRead[k]; err != nil {
		return nil, err
	}

	rows := s.rowsLocked(k)
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return copyRows(rows[offset:end]), nil
}

func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range model.ReverseDependencyOrder() {
		delete(s.tables, k)
		delete(s.identity, k)
	}
	return nil
}

// WriteBatch checks every record against the primary key, unique and foreign
// key constraints of k and appends the batch only when all of them pass.
func (s *Store) WriteBatch(ctx context.Context, k model.Kind, recs []model.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite[k]; err != nil {
		return 0, err
	}

	sch := model.Schema(k)
	t := s.tableLocked(k)
	// Only the batch's own keys and values are tracked here; stored ones are
	// already in t.
	keys := map[rowKey]bool{}
	seen := make(map[string]map[any]bool, len(t.uniq))
	for col := range t.uniq {
		seen[col] = map[any]bool{}
	}

	for i, r := range recs {
		if len(r) != len(sch.Columns) {
			return 0, fmt.Errorf("%s row %d: %d values, want %d", k, i, len(r), len(sch.Columns))
		}
		key := keyOf(sch, r)
		if t.keys[key] || keys[key] {
			return 0, fmt.Errorf("%s row %d: %w: duplicate key (%s)", k, i, ErrConstraint, key.format(len(sch.KeyColumns)))
		}
		keys[key] = true
		for col := range t.uniq {
			v := uniqueValue(r[sch.Index(col)])
			if t.uniq[col][v] || seen[col][v] {
				return 0, fmt.Errorf("%s row %d: %w: duplicate %s %q", k, i, ErrConstraint, col, fmt.Sprint(v))
			}
			seen[col][v] = true
		}
		if parent := s.missingParentLocked(k, r); parent != "" {
			return 0, fmt.Errorf("%s row %d: %w: missing %s", k, i, ErrConstraint, parent)
		}
	}

	for _, r := range recs {
		s.appendLocked(k, r)
	}
	s.batches[k]++
	return int64(len(recs)), nil
}

func (s *Store) SyncIdentity(ctx context.Context, k model.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sch := model.Schema(k)
	if !sch.Identity {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	if rows := s.rowsLocked(k); len(rows) > 0 {
		max, _ = asInt64(rows[len(rows)-1][0])
	}
	s.identity[k] = max + 1
	return nil
}

// Wipe is Reset; the store keeps generated ids as they are.
func (s *Store) Wipe(ctx context.Context) error { return s.Reset(ctx) }

// Load writes each kind of data as one checked batch, in dependency order.
func (s *Store) Load(ctx context.Context, data map[model.Kind][]model.Record) (model.Counts, error) {
	counts := model.Counts{}
	for _, k := range model.DependencyOrder() {
		n, err := s.WriteBatch(ctx, k, data[k])
		if err != nil {
			return counts, fmt.Errorf("load %s: %w", k, err)
		}
		counts[k] = n
	}
	return counts, nil
}

func uniqueColumns(k model.Kind) []string {
	switch k {
	case model.KindTag:
		return []string{"name"}
	case model.KindProduct:
		return []string{"sku"}
	case model.KindProductDetail:
		return []string{"product_id"}
	}
	return nil
}

type fkRef struct {
	column string
	parent model.Kind
}

func foreignKeys(k model.Kind) []fkRef {
	switch k {
	case model.KindProduct:
		return []fkRef{{"category_id", model.KindCategory}}
	case model.KindProductDetail:
		return []fkRef{{"product_id", model.KindProduct}}
	case model.KindProductTag:
		return []fkRef{{"product_id", model.KindProduct}, {"tag_id", model.KindTag}}
	}
	return nil
}

// missingParentLocked returns a description of the first dangling foreign key
// of r, or "".
func (s *Store) missingParentLocked(k model.Kind, r model.Record) string {
	sch := model.Schema(k)
	for _, fk := range foreignKeys(k) {
		want, _ := asInt64(r[sch.Index(fk.column)])
		if !s.hasIDLocked(fk.parent, want) {
			return fmt.Sprintf("%s %d", fk.parent, want)
		}
	}
	return ""
}

func (s *Store) hasIDLocked(k model.Kind, id int64) bool {
	t := s.tables[k]
	return t != nil && t.keys[rowKey{id}]
}

func (s *Store) rowsLocked(k model.Kind) []model.Record {
	if t := s.tables[k]; t != nil {
		return t.rows
	}
	return nil
}

func (s *Store) tableLocked(k model.Kind) *table {
	t := s.tables[k]
	if t == nil {
		t = newTable(k)
		s.tables[k] = t
	}
	return t
}

// appendLocked inserts a copy of r at its key position, after any rows with an
// equal key. In-order input takes the append fast path.
func (s *Store) appendLocked(k model.Kind, r model.Record) {
	sch := model.Schema(k)
	t := s.tableLocked(k)
	row := append(model.Record(nil), r...)
	key := keyOf(sch, row)

	n := len(t.rows)
	if n == 0 || !key.less(keyOf(sch, t.rows[n-1])) {
		t.rows = append(t.rows, row)
	} else {
		at := sort.Search(n, func(i int) bool { return key.less(keyOf(sch, t.rows[i])) })
		t.rows = append(t.rows, nil)
		copy(t.rows[at+1:], t.rows[at:])
		t.rows[at] = row
	}

	t.keys[key] = true
	for col, vals := range t.uniq {
		vals[uniqueValue(row[sch.Index(col)])] = true
	}
}

func copyRows(rows []model.Record) []model.Record {
	out := make([]model.Record, len(rows))
	for i, r := range rows {
		out[i] = append(model.Record(nil), r...)
	}
	return out
}

func keyOf(sch model.TableSchema, r model.Record) rowKey {
	var key rowKey
	for c := range sch.KeyColumns {
		if c < len(key) {
			key[c], _ = asInt64(r[c])
		}
	}
	return key
}

func (k rowKey) format(width int) string {
	if width > 1 {
		return fmt.Sprintf("%d,%d", k[0], k[1])
	}
	return fmt.Sprint(k[0])
}

// uniqueValue maps a column value to a comparable set member; integers of any
// width compare equal.
func uniqueValue(v any) any {
	v = deref(v)
	if n, ok := asInt64(v); ok {
		return n
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

func asInt64(v any) (int64, bool) {
	switch x := deref(v).(type) {
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

func asDecimal(v any) (decimal.Decimal, error) {
	switch x := deref(v).(type) {
	case decimal.Decimal:
		return x, nil
	case pgtype.Numeric:
		if !x.Valid || x.Int == nil {
			return decimal.Decimal{}, fmt.Errorf("null or non-finite numeric")
		}
		return decimal.NewFromBigInt(x.Int, x.Exp), nil
	case string:
		return decimal.NewFromString(x)
	}
	return decimal.Decimal{}, fmt.Errorf("unexpected price type %T", v)
}

func deref(v any) any {
	switch x := v.(type) {
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}
