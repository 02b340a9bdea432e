// Package migrate moves the catalog from a source store to a target store:
// paged reads, normalization, batched writes, and the staged run around them.
package migrate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"mssql2pg/internal/model"
	"mssql2pg/internal/storage"
)

// Reader pages through one source kind at a time in key order.
type Reader struct {
	src     storage.Source
	limiter *rate.Limiter // nil means unlimited
	timeout time.Duration
}

// NewReader returns a Reader over src. pagesPerSecond <= 0 disables
// throttling; timeout <= 0 disables the per-page deadline.
func NewReader(src storage.Source, pagesPerSecond float64, timeout time.Duration) *Reader {
	r := &Reader{src: src, timeout: timeout}
	if pagesPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(pagesPerSecond), 1)
	}
	return r
}

// Read returns at most limit records of k starting at offset. A short page is
// the last one; an empty page means the kind is exhausted.
func (r *Reader) Read(ctx context.Context, k model.Kind, offset, limit int) ([]model.Record, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("read %s: throttle: %w", k, err)
		}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	page, err := r.src.ReadPage(ctx, k, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("read %s offset=%d: %w", k, offset, err)
	}
	return page, nil
}
