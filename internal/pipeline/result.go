package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/fsds-cli/internal/fsds"
)

// Stage is a state of the per-period run machine.
type Stage string

const (
	StageInit         Stage = "INIT"
	StageConnectivity Stage = "CONNECTIVITY_CHECK"
	StageFetch        Stage = "FETCH"
	StageExtract      Stage = "EXTRACT"
	StagePublish      Stage = "PUBLISH"
	StageLoad         Stage = "LOAD"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// Failure attributes one member-level error to the stage it happened in.
type Failure struct {
	Member fsds.Member
	Stage  Stage
	Err    error
}

// MemberResult is everything a run produced for one member.
type MemberResult struct {
	Member fsds.Member
	Raw    *fsds.StagedObject
	JSON   *fsds.StagedObject
	Load   *fsds.LoadResult
}

// StageTiming records how long a stage ran.
type StageTiming struct {
	Stage    Stage
	Duration time.Duration
}

// Result is the outcome of one Run.
type Result struct {
	Period      fsds.Period
	RunID       uuid.UUID
	State       Stage
	FailedStage Stage
	Cause       error
	Degraded    bool
	Members     []MemberResult
	Failures    []Failure
	Triggered   bool
	TriggerErr  error
	Timings     []StageTiming
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Failed reports whether the run ended in FAILED.
func (r *Result) Failed() bool { return r.State == StageFailed }

// Err returns the run-fatal cause, or nil for DONE runs.
func (r *Result) Err() error { return r.Cause }

// FailedMembers lists each member with at least one failure once, in the
// order the failures happened.
func (r *Result) FailedMembers() []fsds.Member {
	seen := make(map[fsds.Member]bool, len(r.Failures))
	var out []fsds.Member
	for _, f := range r.Failures {
		if !seen[f.Member] {
			seen[f.Member] = true
			out = append(out, f.Member)
		}
	}
	return out
}

// RowsLoaded sums rows loaded over every member.
func (r *Result) RowsLoaded() int64 {
	var n int64
	for _, m := range r.Members {
		if m.Load != nil {
			n += m.Load.RowsLoaded
		}
	}
	return n
}

// RowsRejected sums rows rejected over every member.
func (r *Result) RowsRejected() int64 {
	var n int64
	for _, m := range r.Members {
		if m.Load != nil {
			n += m.Load.RowsRejected
		}
	}
	return n
}

// Member returns the result slot for m.
func (r *Result) Member(m fsds.Member) *MemberResult {
	for i := range r.Members {
		if r.Members[i].Member == m {
			return &r.Members[i]
		}
	}
	return nil
}

// failure returns the first failure recorded for m.
func (r *Result) failure(m fsds.Member) *Failure {
	for i := range r.Failures {
		if r.Failures[i].Member == m {
			return &r.Failures[i]
		}
	}
	return nil
}
