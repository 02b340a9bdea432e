package config

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// IssueSeverity is the severity of a configuration finding.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one configuration finding. Path is the flag name.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements error so an Issue can travel as one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	knownModes    = []string{ModeMenu, ModeSeed, ModeMigrate, ModeSeedMigrate, ModeSpotCheck}
	knownLevels   = []string{"debug", "info", "warn", "error"}
	knownFormats  = []string{"console", "json"}
	knownBackends = []string{"none", "prometheus", "datadog"}
)

// Validate lints c without mutating it.
func Validate(c Config) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if !contains(knownModes, c.Mode) {
		add(SeverityError, "mode", "unknown mode %q; want one of seed, migrate, seed-migrate, spot-check", c.Mode)
	}

	issues = append(issues, validateStore("source", c.SourceEngine, c.SourceDSN, true)...)
	needTarget := c.Mode != ModeSeed
	issues = append(issues, validateStore("target", c.TargetEngine, c.TargetDSN, needTarget)...)
	if c.SourceEngine == "memory" {
		add(SeverityError, "source_engine", "memory engine cannot be a source")
	}

	if c.BatchSize <= 0 {
		add(SeverityError, "batch_size", "must be > 0, got %d", c.BatchSize)
	} else if c.BatchSize > 100000 {
		add(SeverityWarning, "batch_size", "%d rows per batch holds large pages in memory", c.BatchSize)
	}
	if c.JoinBatchSize <= 0 {
		add(SeverityError, "join_batch_size", "must be > 0, got %d", c.JoinBatchSize)
	}
	if c.BatchTimeout <= 0 {
		add(SeverityError, "batch_timeout", "must be positive, got %s", c.BatchTimeout)
	}
	if c.ReadRate < 0 {
		add(SeverityError, "read_rate", "must be >= 0, got %g", c.ReadRate)
	}
	if c.SampleSize < 0 {
		add(SeverityError, "sample_size", "must be >= 0, got %d", c.SampleSize)
	} else if c.SampleSize == 0 {
		add(SeverityWarning, "sample_size", "0 disables the sampled field comparison")
	}

	if strings.TrimSpace(c.ReportDir) == "" {
		add(SeverityError, "report_dir", "must not be empty")
	}
	if !contains(knownLevels, c.LogLevel) {
		add(SeverityWarning, "log_level", "unknown level %q, info will be used", c.LogLevel)
	}
	if !contains(knownFormats, c.LogFormat) {
		add(SeverityWarning, "log_format", "unknown format %q, json will be used", c.LogFormat)
	}

	switch {
	case !contains(knownBackends, c.MetricsBackend):
		add(SeverityError, "metrics_backend", "unknown backend %q", c.MetricsBackend)
	case c.MetricsBackend == "prometheus" && c.PushgatewayURL == "":
		add(SeverityError, "pushgateway_url", "required when metrics_backend=prometheus")
	case c.MetricsBackend == "datadog" && c.StatsdAddr == "":
		add(SeverityError, "statsd_addr", "required when metrics_backend=datadog")
	}
	if c.MetricsBackend != "none" && strings.TrimSpace(c.Job) == "" {
		add(SeverityError, "job", "must not be empty when metrics are enabled")
	}

	if (c.Mode == ModeSeed || c.Mode == ModeSeedMigrate) && c.ProductCount <= 0 {
		add(SeverityError, "products", "must be > 0 when seeding, got %d", c.ProductCount)
	}
	return issues
}

func validateStore(role, engine, dsn string, required bool) []Issue {
	path := role + "_dsn"
	switch engine {
	case "memory":
		return nil
	case "mssql":
		if dsn == "" {
			if !required {
				return nil
			}
			return []Issue{{SeverityError, path, "SQL Server DSN is required"}}
		}
		if _, err := msdsn.Parse(dsn); err != nil {
			return []Issue{{SeverityError, path, "invalid SQL Server DSN: " + err.Error()}}
		}
	case "postgres":
		if dsn == "" {
			if !required {
				return nil
			}
			return []Issue{{SeverityError, path, "PostgreSQL DSN is required"}}
		}
		if _, err := pgconn.ParseConfig(dsn); err != nil {
			return []Issue{{SeverityError, path, "invalid PostgreSQL DSN: " + err.Error()}}
		}
	default:
		return []Issue{{SeverityError, role + "_engine", fmt.Sprintf("unknown engine %q", engine)}}
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
