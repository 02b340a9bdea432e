// Package storage holds the engine-agnostic contracts between the migration
// core and the two databases, plus a small factory so callers can open a
// store by engine name without importing the backend.
//
// Backends register themselves from init(); importing
// mssql2pg/internal/storage/all wires every built-in engine.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mssql2pg/internal/model"
)

// Inspector is the read-only surface the validators need. Both the source and
// the target implement it.
type Inspector interface {
	// Count returns the number of rows of kind k.
	Count(ctx context.Context, k model.Kind) (int64, error)
	// CountOrphans returns the number of rows of kind k whose foreign key
	// points at a missing parent. Kinds without foreign keys return 0.
	CountOrphans(ctx context.Context, k model.Kind) (int64, error)
	// TagNames returns every Tag name.
	TagNames(ctx context.Context) ([]string, error)
	// ProductSamples returns the first n Products by ascending id.
	ProductSamples(ctx context.Context, n int) ([]model.ProductSample, error)
}

// Source is the store records are read from.
type Source interface {
	Inspector
	// ReadPage returns up to limit records of kind k, skipping offset, in
	// ascending primary key order. An empty page means the kind is exhausted.
	ReadPage(ctx context.Context, k model.Kind, offset, limit int) ([]model.Record, error)
	Close()
}

// Target is the store normalized records are written to.
type Target interface {
	Inspector
	// Reset removes all rows of every kind and restarts identity counters.
	Reset(ctx context.Context) error
	// WriteBatch inserts recs in a single transaction and returns the number
	// of rows committed.
	WriteBatch(ctx context.Context, k model.Kind, recs []model.Record) (int64, error)
	// SyncIdentity moves the identity counter of k past the highest key.
	SyncIdentity(ctx context.Context, k model.Kind) error
	Close()
}

// Config is the engine-agnostic connection configuration.
type Config struct {
	Engine string // "mssql", "postgres", "memory"
	DSN    string
}

// Factory opens a store. The returned value must implement Source, Target, or
// both.
type Factory func(ctx context.Context, cfg Config) (any, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for an engine.
func Register(engine string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[engine] = f
}

// ListEngines returns the registered engine names, sorted.
func ListEngines() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func open(ctx context.Context, cfg Config) (any, error) {
	mu.RLock()
	f, ok := factories[cfg.Engine]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage engine=%s (registered: %s)", cfg.Engine, strings.Join(ListEngines(), ", "))
	}
	return f(ctx, cfg)
}

// OpenSource opens cfg.Engine and checks it can serve as a Source.
func OpenSource(ctx context.Context, cfg Config) (Source, error) {
	s, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	src, ok := s.(Source)
	if !ok {
		closeAny(s)
		return nil, fmt.Errorf("storage engine=%s cannot be used as a source", cfg.Engine)
	}
	return src, nil
}

// OpenTarget opens cfg.Engine and checks it can serve as a Target.
func OpenTarget(ctx context.Context, cfg Config) (Target, error) {
	s, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	dst, ok := s.(Target)
	if !ok {
		closeAny(s)
		return nil, fmt.Errorf("storage engine=%s cannot be used as a target", cfg.Engine)
	}
	return dst, nil
}

func closeAny(v any) {
	if c, ok := v.(interface{ Close() }); ok {
		c.Close()
	}
}

// SchemaEnsurer is implemented by targets that can create their own tables.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Seeder is implemented by stores that can be filled with generated rows.
type Seeder interface {
	// Wipe deletes every row and reseeds the identity counters.
	Wipe(ctx context.Context) error
	// Load inserts data kind by kind in dependency order and returns the
	// per-kind row counts. A store may assign its own identity values; the
	// foreign keys of later kinds follow them.
	Load(ctx context.Context, data map[model.Kind][]model.Record) (model.Counts, error)
}
