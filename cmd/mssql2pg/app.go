package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"mssql2pg/internal/config"
	"mssql2pg/internal/migrate"
	"mssql2pg/internal/report"
	"mssql2pg/internal/seed"
	"mssql2pg/internal/storage"
	"mssql2pg/internal/validate"
	"mssql2pg/pkg/logger"
)

// app runs one mode against stores opened on demand.
type app struct {
	cfg        *config.Config
	in         *bufio.Reader
	out        io.Writer
	openSource func(ctx context.Context) (storage.Source, error)
	openTarget func(ctx context.Context) (storage.Target, error)
	now        func() time.Time

	interactive bool
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprint(a.out, message.NewPrinter(language.English).Sprintf(format, args...))
}

func (a *app) run(ctx context.Context) error {
	mode := a.cfg.Mode
	if mode == config.ModeMenu {
		a.interactive = true
		mode = a.menu()
	}

	switch mode {
	case config.ModeSeed:
		return a.seed(ctx)
	case config.ModeMigrate:
		return a.migrate(ctx)
	case config.ModeSeedMigrate:
		if err := a.seed(ctx); err != nil {
			return err
		}
		return a.migrate(ctx)
	case config.ModeSpotCheck:
		return a.spotCheck(ctx)
	}
	return fmt.Errorf("unknown mode %q", mode)
}

// seed regenerates the source catalog after confirmation.
func (a *app) seed(ctx context.Context) error {
	count := a.cfg.ProductCount
	if a.interactive {
		count = a.askCount(count)
	}
	if !a.confirm(fmt.Sprintf("This deletes every row in the %s source and inserts %d products. Continue?", a.cfg.SourceEngine, count)) {
		a.printf("Seeding cancelled.\n")
		return nil
	}

	src, err := a.openSource(ctx)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	seeder, ok := src.(storage.Seeder)
	if !ok {
		return fmt.Errorf("source engine %s cannot be seeded", a.cfg.SourceEngine)
	}
	if se, ok := src.(storage.SchemaEnsurer); ok && a.cfg.EnsureSchema {
		if err := se.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	cat := seed.Generate(seed.Options{Products: count, Seed: a.cfg.Seed, Now: a.now().UTC()})
	if err := seeder.Wipe(ctx); err != nil {
		return fmt.Errorf("wipe source: %w", err)
	}
	counts, err := seeder.Load(ctx, cat.Records())
	if err != nil {
		a.printf("Seeding FAILED after %s: %v\n", time.Since(start).Truncate(time.Millisecond), err)
		return err
	}
	a.printf("Seeding SUCCEEDED in %s: %d records\n", time.Since(start).Truncate(time.Millisecond), counts.Total())
	logger.Info("source seeded", logger.Fields{"products": count, "records": counts.Total()})
	return nil
}

func (a *app) migrate(ctx context.Context) error {
	src, dst, err := a.openBoth(ctx)
	if err != nil {
		return err
	}
	defer src.Close()
	defer dst.Close()

	if se, ok := dst.(storage.SchemaEnsurer); ok && a.cfg.EnsureSchema {
		if err := se.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	r := &migrate.Runner{
		Source: src,
		Target: dst,
		Options: migrate.Options{
			BatchSize:     a.cfg.BatchSize,
			JoinBatchSize: a.cfg.JoinBatchSize,
			BatchTimeout:  a.cfg.BatchTimeout,
			ReadRate:      a.cfg.ReadRate,
			Job:           a.cfg.Job,
		},
		SampleSize: a.cfg.SampleSize,
		Reporter:   report.Writer{Dir: a.cfg.ReportDir},
	}
	res := r.Run(ctx)

	total := res.Migration.Counts.Total()
	if res.Success {
		a.printf("Migration SUCCEEDED in %s: %d records, %.1f records/s\n",
			res.Total.Truncate(time.Millisecond), total, report.Throughput(total, res.Total))
	} else {
		a.printf("Migration FAILED in %s (%s): %v\n", res.Total.Truncate(time.Millisecond), res.State, res.Err)
	}
	if res.ReportPath != "" {
		a.printf("Report: %s\n", res.ReportPath)
	}
	if !res.Success {
		return res.Err
	}
	return nil
}

// spotCheck compares binary columns of the first products in both stores.
func (a *app) spotCheck(ctx context.Context) error {
	src, dst, err := a.openBoth(ctx)
	if err != nil {
		return err
	}
	defer src.Close()
	defer dst.Close()

	n := a.cfg.SampleSize
	if n <= 0 {
		n = validate.DefaultSampleSize
	}
	res, err := validate.BinarySpotCheck(ctx, src, dst, n)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "product\tcolumn\tsource\ttarget\tmatch")
	for _, c := range res.Checks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", c.ProductID, c.Column, c.Source, c.Target, c.Match)
	}
	_ = tw.Flush()

	if res.Mismatches > 0 {
		a.printf("Spot-check FAILED: %d of %d binary values differ\n", res.Mismatches, len(res.Checks))
		return fmt.Errorf("spot-check: %d mismatches", res.Mismatches)
	}
	a.printf("Spot-check SUCCEEDED: %d binary values identical\n", len(res.Checks))
	return nil
}

func (a *app) openBoth(ctx context.Context) (storage.Source, storage.Target, error) {
	src, err := a.openSource(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open source: %w", err)
	}
	dst, err := a.openTarget(ctx)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("open target: %w", err)
	}
	return src, dst, nil
}
