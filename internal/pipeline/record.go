package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/runlog"
)

func (o *Orchestrator) record(ctx context.Context, res *Result, log *zap.Logger) {
	if o.deps.Recorder == nil {
		return
	}
	run, members := RunRecord(res)
	if err := o.deps.Recorder.Finish(context.WithoutCancel(ctx), run, members); err != nil {
		log.Warn("pipeline: record run finish", zap.Error(err))
	}
}

// RunRecord converts a Result into its run log rows.
func RunRecord(res *Result) (runlog.Run, []runlog.MemberOutcome) {
	run := runlog.Run{
		RunID:        res.RunID,
		Period:       res.Period.String(),
		State:        string(res.State),
		FailedStage:  string(res.FailedStage),
		Degraded:     res.Degraded,
		RowsLoaded:   res.RowsLoaded(),
		RowsRejected: res.RowsRejected(),
		Triggered:    res.Triggered,
		StartedAt:    res.StartedAt,
	}
	if !res.FinishedAt.IsZero() {
		t := res.FinishedAt
		run.FinishedAt = &t
	}
	if res.Cause != nil {
		run.Error = res.Cause.Error()
	}
	for _, m := range res.FailedMembers() {
		run.FailedMembers = append(run.FailedMembers, m.Name())
	}

	// Members never reached when the run failed before publishing.
	if res.Failed() && (res.FailedStage != StagePublish && res.FailedStage != StageLoad) {
		return run, nil
	}

	members := make([]runlog.MemberOutcome, 0, len(res.Members))
	for _, mr := range res.Members {
		out := runlog.MemberOutcome{Member: mr.Member.Name(), Stage: string(StagePublish), Status: "ok"}
		if mr.Raw != nil {
			out.ObjectKey = mr.Raw.Key
		}
		if mr.Load != nil {
			out.Stage = string(StageLoad)
			out.RowsLoaded = mr.Load.RowsLoaded
			out.RowsRejected = mr.Load.RowsRejected
		}
		if f := res.failure(mr.Member); f != nil {
			out.Stage = string(f.Stage)
			out.Status = "failed"
			out.Error = f.Err.Error()
		}
		members = append(members, out)
	}
	return run, members
}
