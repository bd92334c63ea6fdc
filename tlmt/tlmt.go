// Package tlmt sends anonymous usage events.
package tlmt

import (
	"context"
	"os"
	"runtime"
)

// Event names
const (
	EventStrategyCreated = "strategy_created"
	EventSessionFinished = "session_finished"
	EventWorkerStarted   = "worker_started"
)

// Telemetry delivers usage events. Send must not block on the network.
type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// Event is a named usage event with free-form properties.
type Event struct {
	Name       string
	Properties map[string]any
}

// NewEvent builds an event and stamps it with runtime facts.
func NewEvent(name string, props map[string]any) Event {
	if props == nil {
		props = make(map[string]any, 2)
	}
	props["goos"] = runtime.GOOS
	props["goarch"] = runtime.GOARCH
	return Event{Name: name, Properties: props}
}

// MachineID returns a stable-enough anonymous id for this host.
func MachineID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
