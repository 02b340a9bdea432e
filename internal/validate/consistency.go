package validate

import (
	"context"
	"fmt"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"mssql2pg/internal/metrics"
	"mssql2pg/internal/model"
	"mssql2pg/internal/normalize"
	"mssql2pg/internal/storage"
)

// DefaultSampleSize is how many Products are compared field by field.
const DefaultSampleSize = 100

// ConsistencyResult lists every mismatch found between source and target.
// IsConsistent holds iff Errors is empty.
type ConsistencyResult struct {
	SourceCounts model.Counts
	TargetCounts model.Counts
	Sampled      int
	IsConsistent bool
	Errors       []string
}

// Checker compares a source and a target after a migration.
type Checker struct {
	SampleSize int    // products compared; 0 disables sampling
	Job        string // metrics job label
}

// Compare checks per-kind counts, then compares the first SampleSize
// Products by id on price, category, created_at and xxh3 digests of the
// binary columns. Mismatches are collected and never stop the pass; the
// returned error is a store fault.
func (c Checker) Compare(ctx context.Context, source, target storage.Inspector) (ConsistencyResult, error) {
	res := ConsistencyResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { res.SourceCounts, err = countAll(gctx, source); return })
	g.Go(func() (err error) { res.TargetCounts, err = countAll(gctx, target); return })
	if err := g.Wait(); err != nil {
		return res, err
	}
	for _, k := range model.DependencyOrder() {
		if s, t := res.SourceCounts[k], res.TargetCounts[k]; s != t {
			res.Errors = append(res.Errors, fmt.Sprintf("%s count mismatch: source=%d target=%d", k, s, t))
		}
	}

	if c.SampleSize > 0 {
		var src, dst []model.ProductSample
		g, gctx = errgroup.WithContext(ctx)
		g.Go(func() (err error) { src, err = source.ProductSamples(gctx, c.SampleSize); return })
		g.Go(func() (err error) { dst, err = target.ProductSamples(gctx, c.SampleSize); return })
		if err := g.Wait(); err != nil {
			return res, err
		}
		res.Sampled = len(src)
		res.Errors = append(res.Errors, compareSamples(src, dst)...)
	}

	res.IsConsistent = len(res.Errors) == 0
	metrics.RecordMismatches(c.Job, int64(len(res.Errors)))
	return res, nil
}

func countAll(ctx context.Context, s storage.Inspector) (model.Counts, error) {
	out := model.Counts{}
	for _, k := range model.DependencyOrder() {
		n, err := s.Count(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func compareSamples(src, dst []model.ProductSample) []string {
	byID := make(map[int32]model.ProductSample, len(dst))
	for _, d := range dst {
		byID[d.ID] = d
	}

	var errs []string
	for _, s := range src {
		d, ok := byID[s.ID]
		if !ok {
			errs = append(errs, fmt.Sprintf("Product %d missing in target", s.ID))
			continue
		}
		if !s.Price.Equal(d.Price) {
			errs = append(errs, fmt.Sprintf("Product %d price mismatch: source=%s target=%s", s.ID, s.Price, d.Price))
		}
		if s.CategoryID != d.CategoryID {
			errs = append(errs, fmt.Sprintf("Product %d category mismatch: source=%d target=%d", s.ID, s.CategoryID, d.CategoryID))
		}
		sc, dc := normalize.EnsureUnspecifiedKind(s.CreatedAt), normalize.EnsureUnspecifiedKind(d.CreatedAt)
		if !sc.Equal(dc) {
			errs = append(errs, fmt.Sprintf("Product %d created_at mismatch: source=%s target=%s", s.ID, sc, dc))
		}
		if sd, td := Digest(s.Checksum), Digest(d.Checksum); sd != td {
			errs = append(errs, fmt.Sprintf("Product %d checksum mismatch: source=%s target=%s", s.ID, sd, td))
		}
		if sd, td := Digest(s.Image), Digest(d.Image); sd != td {
			errs = append(errs, fmt.Sprintf("Product %d image mismatch: source=%s target=%s", s.ID, sd, td))
		}
	}
	return errs
}

// Digest renders the length and xxh3 hash of b. NULL and empty differ.
func Digest(b []byte) string {
	if b == nil {
		return "null"
	}
	return fmt.Sprintf("%d:%016x", len(b), xxh3.Hash(b))
}
