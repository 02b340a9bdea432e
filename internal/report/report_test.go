package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mssql2pg/internal/migrate"
	"mssql2pg/internal/model"
	"mssql2pg/internal/validate"
)

func finished() migrate.RunResult {
	counts := model.Counts{
		model.KindCategory:      20,
		model.KindTag:           50,
		model.KindProduct:       10000,
		model.KindProductDetail: 7930,
		model.KindProductTag:    2000,
	}
	return migrate.RunResult{
		Started: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		Total:   10 * time.Second,
		State:   migrate.Done,
		Success: true,
		Stages: []migrate.StageTiming{
			{Stage: migrate.ValidatingSource, Duration: 1200 * time.Millisecond},
			{Stage: migrate.Migrating, Duration: 8 * time.Second},
			{Stage: migrate.ValidatingTarget, Duration: 400 * time.Millisecond},
			{Stage: migrate.CrossValidating, Duration: 400 * time.Millisecond},
		},
		SourceIntegrity: validate.IntegrityResult{Counts: counts, IsValid: true,
			Warnings: []string{`tag names ["Eco" "ECO"] collide case-insensitively`}},
		Migration: migrate.Result{
			Counts:    counts,
			Batches:   map[model.Kind]int{model.KindProduct: 10},
			Durations: map[model.Kind]time.Duration{model.KindProduct: 5 * time.Second},
			Success:   true,
		},
		TargetIntegrity: validate.IntegrityResult{Counts: counts, IsValid: true},
		Consistency:     validate.ConsistencyResult{IsConsistent: true, Sampled: 100},
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "migration_report_20240203_040506.txt", FileName(time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)))
}

func TestThroughput(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 2000.0, Throughput(20000, 10*time.Second), 1e-9)
	assert.Zero(t, Throughput(5, 0))
}

func TestRender_Success(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, finished()))
	out := buf.String()

	for _, want := range []string{
		"Status:          SUCCESS (Done)",
		"Total duration:  10s",
		"Total records:   20,000",
		"Throughput:      2,000.0 records/s",
		"Migrating",
		"8s",
		"10,000",
		"Source integrity:     VALID",
		`warning: tag names ["Eco" "ECO"] collide case-insensitively`,
		"Cross-consistency:    CONSISTENT (100 products sampled)",
		"datetimeoffset",
		"timestamptz",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Error:")
}

func TestRender_Failure(t *testing.T) {
	t.Parallel()

	res := finished()
	res.Success = false
	res.State = migrate.Failed
	res.Err = &migrate.Error{Kind: migrate.StoreFailure, Entity: model.KindProduct, Err: errors.New("disk full")}
	res.Stages = res.Stages[:2]
	res.TargetIntegrity = validate.IntegrityResult{}
	res.Consistency = validate.ConsistencyResult{}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, res))
	out := buf.String()
	assert.Contains(t, out, "Status:          FAILED (Failed)")
	assert.Contains(t, out, "Error:           StoreFailure: Product: disk full")
	assert.Contains(t, out, "Target integrity:     not run")
	assert.Contains(t, out, "Cross-consistency:    not run")
}

func TestRender_Mismatches(t *testing.T) {
	t.Parallel()

	res := finished()
	res.Consistency = validate.ConsistencyResult{Sampled: 100, Errors: []string{"Product 7 price mismatch: source=1 target=2"}}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, res))
	assert.Contains(t, buf.String(), "1 MISMATCHES (100 products sampled)")
	assert.Contains(t, buf.String(), "mismatch: Product 7 price mismatch")
}

func TestWriter_Write(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "reports")
	path, err := Writer{Dir: dir}.Write(finished())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "migration_report_20240203_040506.txt"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Type mappings")
}

func TestWriter_BadDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err := Writer{Dir: file}.Write(finished())
	assert.ErrorContains(t, err, "report dir")
}
