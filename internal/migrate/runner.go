package migrate

import (
	"context"
	"errors"
	"strings"
	"time"

	"mssql2pg/internal/metrics"
	"mssql2pg/internal/storage"
	"mssql2pg/internal/validate"
	"mssql2pg/pkg/logger"
)

// State is a stage of a run.
type State string

const (
	NotStarted       State = "NotStarted"
	ValidatingSource State = "ValidatingSource"
	Migrating        State = "Migrating"
	ValidatingTarget State = "ValidatingTarget"
	CrossValidating  State = "CrossValidating"
	// Done: every stage ran; RunResult.Success tells the outcome.
	Done State = "Done"
	// Failed: a stage faulted and the remaining stages were skipped.
	Failed State = "Failed"
)

// StageTiming is the wall clock spent in one stage.
type StageTiming struct {
	Stage    State
	Duration time.Duration
}

// RunResult gathers everything a run produced. Stages that did not run keep
// their zero values.
type RunResult struct {
	Started         time.Time
	Total           time.Duration
	State           State
	Success         bool
	Err             error
	Stages          []StageTiming
	SourceIntegrity validate.IntegrityResult
	Migration       Result
	TargetIntegrity validate.IntegrityResult
	Consistency     validate.ConsistencyResult
	ReportPath      string
}

// Reporter persists a finished run and returns where it went.
type Reporter interface {
	Write(res RunResult) (string, error)
}

// Runner drives one full run: source gate, migration, target check,
// cross-consistency check, report.
type Runner struct {
	Source     storage.Source
	Target     storage.Target
	Options    Options
	SampleSize int
	Reporter   Reporter // optional

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

type run struct {
	*Runner
	res   RunResult
	stage time.Time
	log   *logger.Logger
}

// Run executes the stages strictly in sequence. It never panics on store
// faults; the outcome is in the returned RunResult.
func (r *Runner) Run(ctx context.Context) RunResult {
	opts := r.Options.withDefaults()
	x := &run{Runner: r, log: logger.Get().With(logger.Fields{"job": opts.Job})}
	x.res.Started = time.Now()
	x.res.State = NotStarted

	x.enter(ValidatingSource)
	src, err := validate.Integrity(ctx, r.Source, true)
	x.res.SourceIntegrity = src
	x.leave(opts.Job, err)
	if err != nil {
		return x.fail(&Error{Kind: StoreFailure, Err: err})
	}
	x.warn("source", src.Warnings)
	if !src.IsValid {
		return x.fail(&Error{Kind: SourceValidationFailure, Err: errors.New(strings.Join(src.Errors, "; "))})
	}

	x.enter(Migrating)
	mig := NewPipeline(r.Source, r.Target, opts).Run(ctx)
	x.res.Migration = mig
	x.leave(opts.Job, mig.Err)
	if !mig.Success {
		return x.fail(mig.Err)
	}

	x.enter(ValidatingTarget)
	dst, err := validate.Integrity(ctx, r.Target, false)
	x.res.TargetIntegrity = dst
	x.leave(opts.Job, err)
	if err != nil {
		return x.fail(&Error{Kind: StoreFailure, Err: err})
	}
	x.warn("target", dst.Warnings)

	x.enter(CrossValidating)
	checker := validate.Checker{SampleSize: r.SampleSize, Job: opts.Job}
	cons, err := checker.Compare(ctx, r.Source, r.Target)
	x.res.Consistency = cons
	x.leave(opts.Job, err)
	if err != nil {
		return x.fail(&Error{Kind: StoreFailure, Err: err})
	}

	x.res.Success = dst.IsValid && cons.IsConsistent
	if !dst.IsValid {
		x.res.Err = errors.New("target integrity: " + strings.Join(dst.Errors, "; "))
	} else if !cons.IsConsistent {
		x.res.Err = errors.New("consistency: " + strings.Join(cons.Errors, "; "))
	}
	x.enter(Done)
	return x.finish()
}

func (x *run) enter(s State) {
	from := x.res.State
	x.res.State = s
	x.stage = time.Now()
	x.log.Info("stage", logger.Fields{"from": string(from), "to": string(s)})
	if x.OnTransition != nil {
		x.OnTransition(from, s)
	}
}

func (x *run) leave(job string, err error) {
	d := time.Since(x.stage)
	x.res.Stages = append(x.res.Stages, StageTiming{Stage: x.res.State, Duration: d})
	metrics.RecordStep(job, strings.ToLower(string(x.res.State)), err, d)
}

func (x *run) warn(side string, warnings []string) {
	for _, w := range warnings {
		x.log.Warn(w, logger.Fields{"store": side})
	}
}

func (x *run) fail(err error) RunResult {
	x.res.Err = err
	x.res.Success = false
	x.enter(Failed)
	return x.finish()
}

func (x *run) finish() RunResult {
	x.res.Total = time.Since(x.res.Started)
	if x.res.Success {
		x.log.Info("run succeeded", logger.Fields{"elapsed": x.res.Total.String(), "rows": x.res.Migration.Counts.Total()})
	} else {
		x.log.Error("run failed", x.res.Err, logger.Fields{"state": string(x.res.State), "elapsed": x.res.Total.String()})
	}
	if x.Reporter != nil {
		path, err := x.Reporter.Write(x.res)
		if err != nil {
			x.log.Error("write report", err)
		}
		x.res.ReportPath = path
	}
	return x.res
}
