package notify

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/config"
)

// WorkflowStarter is the part of client.Client the trigger uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Temporal starts a workflow per event.
type Temporal struct {
	starter   WorkflowStarter
	workflow  string
	taskQueue string
	close     func()
}

// NewTemporal wraps an existing starter, typically a client.Client.
func NewTemporal(starter WorkflowStarter, workflow, taskQueue string) *Temporal {
	return &Temporal{starter: starter, workflow: workflow, taskQueue: taskQueue}
}

// DialTemporal connects to the Temporal frontend described by cfg.
func DialTemporal(cfg config.TemporalConfig) (*Temporal, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notify: dial temporal %s", cfg.HostPort)
	}
	t := NewTemporal(c, cfg.Workflow, cfg.TaskQueue)
	t.close = c.Close
	return t, nil
}

// Kind implements Trigger.
func (t *Temporal) Kind() string { return "temporal" }

// WorkflowID is the deterministic ID of the workflow started for ev.
func (t *Temporal) WorkflowID(ev Event) string {
	return t.workflow + "-" + ev.Period + "-" + ev.RunID
}

// Fire starts the configured workflow with ev as its only argument.
func (t *Temporal) Fire(ctx context.Context, ev Event) error {
	opts := client.StartWorkflowOptions{
		ID:        t.WorkflowID(ev),
		TaskQueue: t.taskQueue,
	}
	run, err := t.starter.ExecuteWorkflow(ctx, opts, t.workflow, ev)
	if err != nil {
		return eris.Wrapf(err, "notify: start workflow %s", opts.ID)
	}

	zap.L().Info("notify: workflow started",
		zap.String("workflow", t.workflow),
		zap.String("workflow_id", run.GetID()),
		zap.String("temporal_run_id", run.GetRunID()),
	)
	return nil
}

// Close releases the client dialed by DialTemporal.
func (t *Temporal) Close() {
	if t.close != nil {
		t.close()
	}
}
