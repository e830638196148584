package runlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fsds-cli/internal/db"
)

// Run states stored in fsds.pipeline_runs.
const (
	StateRunning = "RUNNING"
	StateDone    = "DONE"
	StateFailed  = "FAILED"
)

// Run is one row of fsds.pipeline_runs.
type Run struct {
	RunID         uuid.UUID  `json:"run_id"`
	Period        string     `json:"period"`
	State         string     `json:"state"`
	FailedStage   string     `json:"failed_stage,omitempty"`
	Degraded      bool       `json:"degraded"`
	FailedMembers []string   `json:"failed_members,omitempty"`
	RowsLoaded    int64      `json:"rows_loaded"`
	RowsRejected  int64      `json:"rows_rejected"`
	Triggered     bool       `json:"triggered"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// MemberOutcome is one row of fsds.member_results.
type MemberOutcome struct {
	Member       string `json:"member"`
	Stage        string `json:"stage"`
	Status       string `json:"status"`
	ObjectKey    string `json:"object_key,omitempty"`
	RowsLoaded   int64  `json:"rows_loaded"`
	RowsRejected int64  `json:"rows_rejected"`
	Error        string `json:"error,omitempty"`
}

// Recorder reads and writes the run log.
type Recorder struct {
	pool db.Pool
}

// NewRecorder creates a Recorder backed by the given pool.
func NewRecorder(pool db.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Start records the beginning of a run.
func (r *Recorder) Start(ctx context.Context, runID uuid.UUID, period string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO fsds.pipeline_runs (run_id, period, state, started_at)
		 VALUES ($1, $2, 'RUNNING', now())`,
		runID.String(), period,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: start run %s", runID)
	}
	return nil
}

// Finish stores the final state of a run and its per-member outcomes.
func (r *Recorder) Finish(ctx context.Context, run Run, members []MemberOutcome) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "runlog: begin finish")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	failed := run.FailedMembers
	if failed == nil {
		failed = []string{}
	}
	_, err = tx.Exec(ctx,
		`UPDATE fsds.pipeline_runs
		 SET state = $1, failed_stage = NULLIF($2, ''), degraded = $3, failed_members = $4,
		     rows_loaded = $5, rows_rejected = $6, triggered = $7, error = NULLIF($8, ''),
		     finished_at = now()
		 WHERE run_id = $9`,
		run.State, run.FailedStage, run.Degraded, failed,
		run.RowsLoaded, run.RowsRejected, run.Triggered, run.Error,
		run.RunID.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: finish run %s", run.RunID)
	}

	for _, m := range members {
		_, err := tx.Exec(ctx,
			`INSERT INTO fsds.member_results
			 (run_id, member, stage, status, object_key, rows_loaded, rows_rejected, error)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''))
			 ON CONFLICT (run_id, member) DO UPDATE SET
			   stage = EXCLUDED.stage, status = EXCLUDED.status, object_key = EXCLUDED.object_key,
			   rows_loaded = EXCLUDED.rows_loaded, rows_rejected = EXCLUDED.rows_rejected,
			   error = EXCLUDED.error`,
			run.RunID.String(), m.Member, m.Stage, m.Status, m.ObjectKey,
			m.RowsLoaded, m.RowsRejected, m.Error,
		)
		if err != nil {
			return eris.Wrapf(err, "runlog: record member %s", m.Member)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "runlog: commit finish")
	}
	committed = true
	return nil
}

// List returns the most recent runs, newest first. A period filters to that
// period when non-empty; limit <= 0 means 20.
func (r *Recorder) List(ctx context.Context, period string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT run_id, period, state, failed_stage, degraded, failed_members,
		        rows_loaded, rows_rejected, triggered, error, started_at, finished_at
		 FROM fsds.pipeline_runs
		 WHERE ($1 = '' OR period = $1)
		 ORDER BY started_at DESC LIMIT $2`,
		period, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run         Run
			id          string
			failedStage *string
			errStr      *string
		)
		if err := rows.Scan(&id, &run.Period, &run.State, &failedStage, &run.Degraded, &run.FailedMembers,
			&run.RowsLoaded, &run.RowsRejected, &run.Triggered, &errStr, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if run.RunID, err = uuid.Parse(id); err != nil {
			return nil, eris.Wrapf(err, "runlog: parse run id %q", id)
		}
		if failedStage != nil {
			run.FailedStage = *failedStage
		}
		if errStr != nil {
			run.Error = *errStr
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Members returns the per-member outcomes of a run in member order.
func (r *Recorder) Members(ctx context.Context, runID uuid.UUID) ([]MemberOutcome, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT member, stage, status, coalesce(object_key, ''), rows_loaded, rows_rejected, coalesce(error, '')
		 FROM fsds.member_results WHERE run_id = $1 ORDER BY member`,
		runID.String(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: members of %s", runID)
	}
	defer rows.Close()

	var out []MemberOutcome
	for rows.Next() {
		var m MemberOutcome
		if err := rows.Scan(&m.Member, &m.Stage, &m.Status, &m.ObjectKey, &m.RowsLoaded, &m.RowsRejected, &m.Error); err != nil {
			return nil, eris.Wrap(err, "runlog: scan member")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LastSuccess returns when the most recent non-degraded DONE run of a period
// started, or nil if there is none.
func (r *Recorder) LastSuccess(ctx context.Context, period string) (*time.Time, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT started_at FROM fsds.pipeline_runs
		 WHERE period = $1 AND state = 'DONE' AND NOT degraded
		 ORDER BY started_at DESC LIMIT 1`,
		period,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", period)
	}
	return &t, nil
}
