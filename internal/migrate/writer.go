package migrate

import (
	"context"
	"fmt"
	"time"

	"mssql2pg/internal/metrics"
	"mssql2pg/internal/model"
	"mssql2pg/internal/storage"
	"mssql2pg/pkg/logger"
)

// Writer stages normalized records and commits them to the target one batch
// per transaction. The staged buffer is emptied after every commit, failed or
// not, so memory stays bounded by one batch.
type Writer struct {
	dst     storage.Target
	timeout time.Duration
	job     string
	log     *logger.Logger

	staged []model.Record

	// progress, reset per kind
	batches  int
	inserted int64
	started  time.Time
	lastAt   time.Time
}

// NewWriter returns a Writer over dst. timeout <= 0 disables the per-batch
// deadline.
func NewWriter(dst storage.Target, timeout time.Duration, job string) *Writer {
	return &Writer{dst: dst, timeout: timeout, job: job, log: logger.Get()}
}

// Begin resets the progress counters for a new kind.
func (w *Writer) Begin() {
	w.batches, w.inserted = 0, 0
	w.started = time.Now()
	w.lastAt = w.started
	w.staged = w.staged[:0]
}

// Staged returns how many records wait for the next commit.
func (w *Writer) Staged() int { return len(w.staged) }

// Batches returns how many batches committed since Begin.
func (w *Writer) Batches() int { return w.batches }

// WriteBatch stages recs, commits them as one batch and clears the stage.
func (w *Writer) WriteBatch(ctx context.Context, k model.Kind, recs []model.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	w.staged = append(w.staged, recs...)
	defer w.clear()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	n, err := w.dst.WriteBatch(ctx, k, w.staged)
	if err != nil {
		return 0, fmt.Errorf("write %s batch #%d: %w", k, w.batches+1, err)
	}
	if n != int64(len(w.staged)) {
		return n, fmt.Errorf("write %s batch #%d: wrote %d rows, staged %d", k, w.batches+1, n, len(w.staged))
	}

	w.batches++
	w.inserted += n
	metrics.RecordRows(w.job, string(k), n)
	metrics.RecordBatches(w.job, string(k), 1)

	now := time.Now()
	elapsed := now.Sub(w.started)
	rps := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rps = float64(w.inserted) / s
	}
	w.log.Debug(fmt.Sprintf("batch #%d: rps=%.0f inserted=%d total_inserted=%d elapsed=%s since_last=%s",
		w.batches, rps, n, w.inserted, elapsed.Truncate(time.Millisecond), now.Sub(w.lastAt).Truncate(time.Millisecond)),
		logger.Fields{"entity": string(k)})
	w.lastAt = now
	return n, nil
}

// clear drops staged records, zeroing the slots so the backing array does
// not pin the batch's values.
func (w *Writer) clear() {
	for i := range w.staged {
		w.staged[i] = nil
	}
	w.staged = w.staged[:0]
}
