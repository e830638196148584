// Package pipeline sequences fetch, extract, publish and load for one
// dataset period.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/config"
	"github.com/sells-group/fsds-cli/internal/fsds"
	"github.com/sells-group/fsds-cli/internal/notify"
	"github.com/sells-group/fsds-cli/internal/runlog"
)

// Fetcher downloads the archive of a period into dir.
type Fetcher interface {
	Fetch(ctx context.Context, p fsds.Period, dir string) (*fsds.ArchiveHandle, error)
}

// Extractor pulls the requested members out of an archive into dir.
type Extractor interface {
	Extract(ctx context.Context, h *fsds.ArchiveHandle, members []fsds.Member, dir string) (map[fsds.Member]fsds.MemberFile, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, h *fsds.ArchiveHandle, members []fsds.Member, dir string) (map[fsds.Member]fsds.MemberFile, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, h *fsds.ArchiveHandle, members []fsds.Member, dir string) (map[fsds.Member]fsds.MemberFile, error) {
	return f(ctx, h, members, dir)
}

// Publisher uploads one representation of a member.
type Publisher interface {
	Publish(ctx context.Context, p fsds.Period, file fsds.MemberFile, rep fsds.Representation, dir string) (fsds.StagedObject, error)
}

// Loader bulk-loads a published raw object into the warehouse.
type Loader interface {
	Load(ctx context.Context, p fsds.Period, m fsds.Member, obj fsds.StagedObject, dir string) (fsds.LoadResult, error)
}

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Recorder persists run bookkeeping.
type Recorder interface {
	Start(ctx context.Context, runID uuid.UUID, period string) error
	Finish(ctx context.Context, run runlog.Run, members []runlog.MemberOutcome) error
}

// Deps are the collaborators of an Orchestrator. Trigger and Recorder are
// optional.
type Deps struct {
	Fetcher     Fetcher
	Extractor   Extractor
	Publisher   Publisher
	Loader      Loader
	ObjectStore Pinger
	Warehouse   Pinger
	Trigger     notify.Trigger
	Recorder    Recorder
}

// Options tune an Orchestrator.
type Options struct {
	TempDir           string
	Members           []fsds.Member
	PublishJSON       bool
	TriggerOnDegraded bool
}

// OptionsFromConfig maps the pipeline config section onto Options.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		TempDir:           cfg.TempDir,
		PublishJSON:       cfg.PublishJSON,
		TriggerOnDegraded: cfg.TriggerOnDegraded,
	}
}

// Orchestrator runs the per-period state machine.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an Orchestrator. Members defaults to every member.
func New(deps Deps, opts Options) *Orchestrator {
	if len(opts.Members) == 0 {
		opts.Members = fsds.AllMembers()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if deps.Trigger == nil {
		deps.Trigger = notify.Nop{}
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// Run processes one period. It never returns nil; a FAILED result carries
// the stage and cause. Every local artifact lives in the run workspace,
// which is removed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, p fsds.Period) *Result {
	res := &Result{
		Period:    p,
		RunID:     uuid.New(),
		State:     StageInit,
		StartedAt: time.Now().UTC(),
	}
	for _, m := range o.opts.Members {
		res.Members = append(res.Members, MemberResult{Member: m})
	}
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("period", p.String()),
		zap.String("run_id", res.RunID.String()),
	)
	log.Info("pipeline: run starting")

	defer func() {
		res.FinishedAt = time.Now().UTC()
		o.record(ctx, res, log)
		if res.Failed() {
			log.Error("pipeline: run failed",
				zap.String("stage", string(res.FailedStage)),
				zap.Error(res.Cause),
			)
			return
		}
		log.Info("pipeline: run complete",
			zap.Bool("degraded", res.Degraded),
			zap.Int64("rows_loaded", res.RowsLoaded()),
			zap.Int64("rows_rejected", res.RowsRejected()),
			zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
		)
	}()

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.Start(ctx, res.RunID, p.String()); err != nil {
			log.Warn("pipeline: record run start", zap.Error(err))
		}
	}

	ws, err := o.workspace(res.RunID)
	if err != nil {
		return fail(res, StageInit, err)
	}
	defer func() {
		if err := os.RemoveAll(ws); err != nil {
			log.Warn("pipeline: remove workspace", zap.String("dir", ws), zap.Error(err))
		}
	}()

	if err := o.stage(res, StageConnectivity, log, func() error { return o.checkConnectivity(ctx) }); err != nil {
		return fail(res, StageConnectivity, err)
	}

	var handle *fsds.ArchiveHandle
	if err := o.stage(res, StageFetch, log, func() (err error) {
		handle, err = o.deps.Fetcher.Fetch(ctx, p, ws)
		return err
	}); err != nil {
		return fail(res, StageFetch, err)
	}

	var files map[fsds.Member]fsds.MemberFile
	if err := o.stage(res, StageExtract, log, func() (err error) {
		files, err = o.deps.Extractor.Extract(ctx, handle, o.opts.Members, ws)
		return err
	}); err != nil {
		return fail(res, StageExtract, err)
	}
	if err := os.Remove(handle.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("pipeline: remove archive", zap.String("path", handle.Path), zap.Error(err))
	}

	_ = o.stage(res, StagePublish, log, func() error {
		o.publish(ctx, res, files, ws, log)
		return nil
	})
	if !anyPublished(res) {
		return fail(res, StagePublish, joinFailures(res, StagePublish))
	}

	_ = o.stage(res, StageLoad, log, func() error {
		o.load(ctx, res, ws, log)
		return nil
	})
	if !anyLoaded(res) {
		return fail(res, StageLoad, joinFailures(res, StageLoad))
	}

	res.State = StageDone
	res.Degraded = len(res.Failures) > 0
	o.trigger(ctx, res, log)
	return res
}

func (o *Orchestrator) workspace(id uuid.UUID) (string, error) {
	dir := filepath.Join(o.opts.TempDir, "run-"+id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "pipeline: create workspace")
	}
	return dir, nil
}

// stage runs fn as the current state and records its duration.
func (o *Orchestrator) stage(res *Result, s Stage, log *zap.Logger, fn func() error) error {
	res.State = s
	start := time.Now()
	err := fn()
	d := time.Since(start)
	res.Timings = append(res.Timings, StageTiming{Stage: s, Duration: d})
	if err != nil {
		return err
	}
	log.Debug("pipeline: stage complete", zap.String("stage", string(s)), zap.Duration("elapsed", d))
	return nil
}

func (o *Orchestrator) checkConnectivity(ctx context.Context) error {
	if o.deps.ObjectStore != nil {
		if err := o.deps.ObjectStore.Ping(ctx); err != nil {
			return &fsds.ConnectivityError{Target: fsds.TargetObjectStore, Err: err}
		}
	}
	if o.deps.Warehouse != nil {
		if err := o.deps.Warehouse.Ping(ctx); err != nil {
			return &fsds.ConnectivityError{Target: fsds.TargetWarehouse, Err: err}
		}
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, res *Result, files map[fsds.Member]fsds.MemberFile, ws string, log *zap.Logger) {
	reps := []fsds.Representation{fsds.Raw}
	if o.opts.PublishJSON {
		reps = append(reps, fsds.JSON)
	}

	for i := range res.Members {
		mr := &res.Members[i]
		file, ok := files[mr.Member]
		if !ok {
			res.Failures = append(res.Failures, Failure{
				Member: mr.Member,
				Stage:  StagePublish,
				Err:    eris.Errorf("pipeline: member %s not extracted", mr.Member),
			})
			continue
		}
		for _, rep := range reps {
			obj, err := o.deps.Publisher.Publish(ctx, res.Period, file, rep, ws)
			if err != nil {
				log.Warn("pipeline: publish failed",
					zap.String("member", mr.Member.String()),
					zap.String("representation", string(rep)),
					zap.Error(err),
				)
				res.Failures = append(res.Failures, Failure{Member: mr.Member, Stage: StagePublish, Err: err})
				continue
			}
			if rep == fsds.Raw {
				mr.Raw = &obj
			} else {
				mr.JSON = &obj
			}
		}
		// The extracted copy is not needed once every representation is uploaded.
		if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("pipeline: remove member file", zap.String("path", file.Path), zap.Error(err))
		}
	}
}

func (o *Orchestrator) load(ctx context.Context, res *Result, ws string, log *zap.Logger) {
	for i := range res.Members {
		mr := &res.Members[i]
		if mr.Raw == nil {
			continue
		}
		lr, err := o.deps.Loader.Load(ctx, res.Period, mr.Member, *mr.Raw, ws)
		if err != nil {
			log.Warn("pipeline: load failed", zap.String("member", mr.Member.String()), zap.Error(err))
			res.Failures = append(res.Failures, Failure{Member: mr.Member, Stage: StageLoad, Err: err})
			continue
		}
		mr.Load = &lr
	}
}

func (o *Orchestrator) trigger(ctx context.Context, res *Result, log *zap.Logger) {
	if res.Degraded && !o.opts.TriggerOnDegraded {
		log.Info("pipeline: trigger skipped for degraded run")
		return
	}
	if err := o.deps.Trigger.Fire(ctx, Event(res)); err != nil {
		res.TriggerErr = err
		log.Error("pipeline: downstream trigger failed", zap.String("kind", o.deps.Trigger.Kind()), zap.Error(err))
		return
	}
	res.Triggered = true
}

// Event builds the downstream notification for a finished run.
func Event(res *Result) notify.Event {
	failed := make([]string, 0, len(res.Failures))
	for _, m := range res.FailedMembers() {
		failed = append(failed, m.Name())
	}
	return notify.Event{
		Event:         notify.EventRawLoadComplete,
		Period:        res.Period.String(),
		RunID:         res.RunID.String(),
		Degraded:      res.Degraded,
		FailedMembers: failed,
		RowsLoaded:    res.RowsLoaded(),
		RowsRejected:  res.RowsRejected(),
		Timestamp:     time.Now().UTC(),
	}
}

func fail(res *Result, s Stage, err error) *Result {
	res.State = StageFailed
	res.FailedStage = s
	res.Cause = err
	return res
}

func anyPublished(res *Result) bool {
	for _, m := range res.Members {
		if m.Raw != nil {
			return true
		}
	}
	return false
}

func anyLoaded(res *Result) bool {
	for _, m := range res.Members {
		if m.Load != nil {
			return true
		}
	}
	return false
}

func joinFailures(res *Result, s Stage) error {
	var errs []error
	for _, f := range res.Failures {
		if f.Stage == s {
			errs = append(errs, f.Err)
		}
	}
	if len(errs) == 0 {
		return eris.Errorf("pipeline: no member completed %s", s)
	}
	return errors.Join(errs...)
}
