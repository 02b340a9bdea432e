package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mssql2pg/internal/config"
	"mssql2pg/internal/model"
	"mssql2pg/internal/seed"
	"mssql2pg/internal/storage"
	"mssql2pg/internal/storage/memstore"
	"mssql2pg/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Initialize(logger.Config{Level: "error", Output: io.Discard})
	os.Exit(m.Run())
}

type harness struct {
	app *app
	out *bytes.Buffer
	src *memstore.Store
	dst *memstore.Store
}

func newHarness(t *testing.T, mode, input string) *harness {
	t.Helper()
	h := &harness{out: &bytes.Buffer{}, src: memstore.New(), dst: memstore.New()}
	cfg := &config.Config{
		SourceEngine:  "memory",
		TargetEngine:  "memory",
		BatchSize:     50,
		JoinBatchSize: 50,
		BatchTimeout:  time.Minute,
		SampleSize:    10,
		ReportDir:     t.TempDir(),
		Job:           "test",
		Mode:          mode,
		ProductCount:  25,
		Seed:          1,
	}
	h.app = &app{
		cfg:        cfg,
		in:         bufio.NewReader(strings.NewReader(input)),
		out:        h.out,
		openSource: func(context.Context) (storage.Source, error) { return h.src, nil },
		openTarget: func(context.Context) (storage.Target, error) { return h.dst, nil },
		now:        func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
	return h
}

func TestApp_SeedMigrateNonInteractive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.ModeSeedMigrate, "")
	h.app.cfg.AssumeYes = true
	require.NoError(t, h.app.run(context.Background()))

	assert.Len(t, h.src.Rows(model.KindProduct), 25)
	assert.Len(t, h.dst.Rows(model.KindProduct), 25)
	out := h.out.String()
	assert.Contains(t, out, "Seeding SUCCEEDED")
	assert.Contains(t, out, "Migration SUCCEEDED")
	assert.Contains(t, out, "Report: ")

	reports, err := filepath.Glob(filepath.Join(h.app.cfg.ReportDir, "migration_report_*.txt"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestApp_MenuSeedWithPromptedCount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.ModeMenu, "1\n7\ny\n")
	require.NoError(t, h.app.run(context.Background()))
	assert.Len(t, h.src.Rows(model.KindProduct), 7)
	assert.Empty(t, h.dst.Rows(model.KindProduct))
}

func TestApp_MenuFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	// Bad option means migrate; the source has to hold data for that.
	h := newHarness(t, config.ModeMenu, "nine\n")
	for k, recs := range seed.Generate(seed.Options{Products: 5, Seed: 2}).Records() {
		h.src.Seed(k, recs...)
	}
	require.NoError(t, h.app.run(context.Background()))
	assert.Len(t, h.dst.Rows(model.KindProduct), 5)
}

func TestApp_MalformedCountKeepsDefault(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.ModeMenu, "1\nlots\nyes\n")
	require.NoError(t, h.app.run(context.Background()))
	assert.Len(t, h.src.Rows(model.KindProduct), 25)
}

func TestApp_DeclinedSeedLeavesSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.ModeSeed, "n\n")
	h.src.Seed(model.KindCategory, model.Category{ID: 1, Name: "keep", CreatedAt: time.Now()}.Values())
	require.NoError(t, h.app.run(context.Background()))
	assert.Contains(t, h.out.String(), "Seeding cancelled.")
	assert.Len(t, h.src.Rows(model.KindCategory), 1)
}

func TestApp_MigrateEmptySourceFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.ModeMigrate, "")
	err := h.app.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, h.out.String(), "Migration FAILED")
	assert.Contains(t, h.out.String(), "SourceValidationFailure")
}

func TestApp_SpotCheck(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.ModeSeedMigrate, "")
	h.app.cfg.AssumeYes = true
	require.NoError(t, h.app.run(context.Background()))

	h.out.Reset()
	h.app.cfg.Mode = config.ModeSpotCheck
	require.NoError(t, h.app.run(context.Background()))
	assert.Contains(t, h.out.String(), "Spot-check SUCCEEDED: 20 binary values identical")

	// A target missing its products fails the check.
	require.NoError(t, h.dst.Reset(context.Background()))
	h.out.Reset()
	err := h.app.run(context.Background())
	assert.ErrorContains(t, err, "spot-check: 20 mismatches")
}

func TestApp_OpenErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.ModeMigrate, "")
	h.app.openTarget = func(context.Context) (storage.Target, error) { return nil, errors.New("refused") }
	err := h.app.run(context.Background())
	assert.EqualError(t, err, "open target: refused")
	assert.True(t, h.src.Closed())
}
