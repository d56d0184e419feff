// Package recorder persists the audit event stream for later analysis.
package recorder

import "github.com/yourorg/autocompounder/internal/model"

// Recorder persists audit events. Implementations must tolerate concurrent
// Record calls from multiple strategies.
type Recorder interface {
	Record(evt model.Event) error
	Recent(strategy string, limit int) ([]model.Event, error)
	Close() error
}

// Noop discards everything. Used when no database path is configured.
type Noop struct{}

func (Noop) Record(model.Event) error { return nil }

func (Noop) Recent(string, int) ([]model.Event, error) { return nil, nil }

func (Noop) Close() error { return nil }
