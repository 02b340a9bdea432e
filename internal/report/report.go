// Package report renders a finished run as a plain-text summary and writes
// it to migration_report_YYYYMMDD_HHMMSS.txt.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"mssql2pg/internal/migrate"
	"mssql2pg/internal/model"
	"mssql2pg/internal/validate"
)

// FileName returns the report file name for a run started at t.
func FileName(t time.Time) string {
	return "migration_report_" + t.Format("20060102_150405") + ".txt"
}

// Throughput is records per second over the whole run; 0 when nothing ran.
func Throughput(records int64, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(records) / total.Seconds()
}

// Writer writes reports into Dir. It implements migrate.Reporter.
type Writer struct {
	Dir string
}

var _ migrate.Reporter = Writer{}

// Write renders res into a new file named after res.Started and returns its
// path.
func (w Writer) Write(res migrate.RunResult) (string, error) {
	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report dir: %w", err)
	}
	path := filepath.Join(dir, FileName(res.Started))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	if err := Render(f, res); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("render report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	return path, nil
}

// Render writes the human-readable summary of res to out.
func Render(out io.Writer, res migrate.RunResult) error {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	status := "SUCCESS"
	if !res.Success {
		status = "FAILED"
	}
	b.WriteString("SQL Server -> PostgreSQL migration report\n")
	b.WriteString(strings.Repeat("=", 42) + "\n\n")
	fmt.Fprintf(&b, "Started:         %s\n", res.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "Status:          %s (%s)\n", status, res.State)
	if res.Err != nil {
		fmt.Fprintf(&b, "Error:           %v\n", res.Err)
	}
	fmt.Fprintf(&b, "Total duration:  %s\n", round(res.Total))
	total := res.Migration.Counts.Total()
	b.WriteString(p.Sprintf("Total records:   %d\n", total))
	b.WriteString(p.Sprintf("Throughput:      %.1f records/s\n", Throughput(total, res.Total)))

	b.WriteString("\nStage durations\n")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, st := range res.Stages {
		fmt.Fprintf(tw, "  %s\t%s\n", st.Stage, round(st.Duration))
	}
	_ = tw.Flush()

	b.WriteString("\nEntities\n")
	tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "  kind\tsource\tmigrated\ttarget\tbatches\tduration\t")
	for _, k := range model.DependencyOrder() {
		fmt.Fprint(tw, p.Sprintf("  %s\t%d\t%d\t%d\t%d\t%s\t\n",
			k,
			res.SourceIntegrity.Counts[k],
			res.Migration.Counts[k],
			res.TargetIntegrity.Counts[k],
			res.Migration.Batches[k],
			round(res.Migration.Durations[k]),
		))
	}
	_ = tw.Flush()

	b.WriteString("\nValidation\n")
	writeIntegrity(&b, "Source", res.SourceIntegrity, stageRan(res, migrate.ValidatingSource))
	writeIntegrity(&b, "Target", res.TargetIntegrity, stageRan(res, migrate.ValidatingTarget))
	writeConsistency(&b, res.Consistency, stageRan(res, migrate.CrossValidating))

	b.WriteString("\nType mappings\n")
	tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  SQL Server\tPostgreSQL\tcategory")
	for _, m := range model.TypeMappings() {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", m.SourceType, m.TargetType, m.Category)
	}
	_ = tw.Flush()

	_, err := io.WriteString(out, b.String())
	return err
}

func stageRan(res migrate.RunResult, s migrate.State) bool {
	for _, st := range res.Stages {
		if st.Stage == s {
			return true
		}
	}
	return false
}

func writeIntegrity(b *strings.Builder, side string, r validate.IntegrityResult, ran bool) {
	switch {
	case !ran:
		fmt.Fprintf(b, "  %s integrity:     not run\n", side)
		return
	case r.IsValid:
		fmt.Fprintf(b, "  %s integrity:     VALID\n", side)
	default:
		fmt.Fprintf(b, "  %s integrity:     INVALID\n", side)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(b, "    error: %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(b, "    warning: %s\n", w)
	}
}

func writeConsistency(b *strings.Builder, r validate.ConsistencyResult, ran bool) {
	switch {
	case !ran:
		b.WriteString("  Cross-consistency:    not run\n")
		return
	case r.IsConsistent:
		fmt.Fprintf(b, "  Cross-consistency:    CONSISTENT (%d products sampled)\n", r.Sampled)
	default:
		fmt.Fprintf(b, "  Cross-consistency:    %d MISMATCHES (%d products sampled)\n", len(r.Errors), r.Sampled)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(b, "    mismatch: %s\n", e)
	}
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
