// Package gonoop is the telemetry backend used when telemetry is disabled.
package gonoop

import (
	"context"

	"github.com/sadewadee/leadscope/tlmt"
)

// Noop discards every event
type Noop struct{}

var _ tlmt.Telemetry = Noop{}

// New returns telemetry that discards every event
func New() tlmt.Telemetry {
	return Noop{}
}

func (Noop) Send(context.Context, tlmt.Event) error { return nil }

func (Noop) Close() error { return nil }
