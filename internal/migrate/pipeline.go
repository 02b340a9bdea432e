package migrate

import (
	"context"
	"fmt"
	"time"

	"mssql2pg/internal/model"
	"mssql2pg/internal/normalize"
	"mssql2pg/internal/storage"
	"mssql2pg/pkg/logger"
)

// DefaultBatchSize is the page and batch size used when Options leaves it 0.
const DefaultBatchSize = 1000

// Options tunes a pipeline run.
type Options struct {
	BatchSize     int           // page size for Category, Tag, Product, ProductDetail
	JoinBatchSize int           // page size for ProductTag
	BatchTimeout  time.Duration // deadline per page read and per batch write; 0 = none
	ReadRate      float64       // source pages per second; 0 = unlimited
	Job           string        // metrics job label
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.JoinBatchSize <= 0 {
		o.JoinBatchSize = o.BatchSize
	}
	if o.Job == "" {
		o.Job = "mssql2pg"
	}
	return o
}

func (o Options) pageSize(k model.Kind) int {
	if k == model.KindProductTag {
		return o.JoinBatchSize
	}
	return o.BatchSize
}

// Result is the outcome of one pipeline run. On failure Counts holds what
// was committed before the fault.
type Result struct {
	Counts    model.Counts
	Batches   map[model.Kind]int
	Durations map[model.Kind]time.Duration
	Total     time.Duration
	Success   bool
	Error     string
	Err       error
}

// Pipeline moves every kind from source to target in dependency order.
type Pipeline struct {
	src    storage.Source
	dst    storage.Target
	opts   Options
	reader *Reader
	writer *Writer
	log    *logger.Logger
}

// NewPipeline wires a reader and a writer over src and dst.
func NewPipeline(src storage.Source, dst storage.Target, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		src:    src,
		dst:    dst,
		opts:   opts,
		reader: NewReader(src, opts.ReadRate, opts.BatchTimeout),
		writer: NewWriter(dst, opts.BatchTimeout, opts.Job),
		log:    logger.Get(),
	}
}

// Run clears the target, then migrates Category, Tag, Product,
// ProductDetail and ProductTag in that order. The first fault stops the run;
// later kinds are not attempted.
func (p *Pipeline) Run(ctx context.Context) Result {
	start := time.Now()
	res := Result{
		Counts:    model.Counts{},
		Batches:   map[model.Kind]int{},
		Durations: map[model.Kind]time.Duration{},
	}
	fail := func(err error) Result {
		res.Total = time.Since(start)
		res.Err = err
		res.Error = err.Error()
		p.log.Error("migration failed", err, logger.Fields{"elapsed": res.Total.String()})
		return res
	}

	if err := p.dst.Reset(ctx); err != nil {
		return fail(&Error{Kind: StoreFailure, Err: fmt.Errorf("reset target: %w", err)})
	}

	for _, k := range model.DependencyOrder() {
		kindStart := time.Now()
		n, err := p.migrateKind(ctx, k)
		res.Counts[k] = n
		res.Batches[k] = p.writer.Batches()
		res.Durations[k] = time.Since(kindStart)
		if err != nil {
			return fail(classify(k, err))
		}
		p.log.Info("entity migrated", logger.Fields{
			"entity":  string(k),
			"rows":    n,
			"batches": res.Batches[k],
			"elapsed": res.Durations[k].Truncate(time.Millisecond).String(),
		})
	}

	res.Total = time.Since(start)
	res.Success = true
	return res
}

// migrateKind pages through k until the source returns an empty page, then
// moves the target identity past the highest copied id.
func (p *Pipeline) migrateKind(ctx context.Context, k model.Kind) (int64, error) {
	size := p.opts.pageSize(k)
	plan := normalize.Compile(k)
	p.writer.Begin()

	var total int64
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		page, err := p.reader.Read(ctx, k, offset, size)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			break
		}
		recs, err := plan.ApplyAll(page)
		if err != nil {
			return total, fmt.Errorf("page at offset %d: %w", offset, err)
		}
		n, err := p.writer.WriteBatch(ctx, k, recs)
		total += n
		if err != nil {
			return total, err
		}
		offset += len(page)
	}

	if err := p.dst.SyncIdentity(ctx, k); err != nil {
		return total, fmt.Errorf("sync identity %s: %w", k, err)
	}
	return total, nil
}
