// Package notify signals downstream transformation jobs that a period's raw
// tables have been loaded.
package notify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fsds-cli/internal/config"
)

// EventRawLoadComplete is the only event the pipeline emits.
const EventRawLoadComplete = "raw_load_complete"

// Event describes a finished load.
type Event struct {
	Event         string    `json:"event"`
	Period        string    `json:"period"`
	RunID         string    `json:"run_id"`
	Degraded      bool      `json:"degraded"`
	FailedMembers []string  `json:"failed_members"`
	RowsLoaded    int64     `json:"rows_loaded"`
	RowsRejected  int64     `json:"rows_rejected"`
	Timestamp     time.Time `json:"timestamp"`
}

// Trigger delivers an Event downstream.
type Trigger interface {
	Fire(ctx context.Context, ev Event) error
	Kind() string
}

// Nop discards events.
type Nop struct{}

// Fire implements Trigger.
func (Nop) Fire(context.Context, Event) error { return nil }

// Kind implements Trigger.
func (Nop) Kind() string { return "none" }

// New builds the Trigger selected by cfg.Kind. Temporal triggers dial the
// frontend, so callers Close the returned closer when it is non-nil.
func New(cfg config.TriggerConfig) (Trigger, func(), error) {
	switch cfg.Kind {
	case "", "none":
		return Nop{}, nil, nil
	case "webhook":
		return NewWebhook(cfg.WebhookURL, 0), nil, nil
	case "temporal":
		t, err := DialTemporal(cfg.Temporal)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	default:
		return nil, nil, eris.Errorf("notify: unknown trigger kind %q", cfg.Kind)
	}
}
