package goposthog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/posthog/posthog-go"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/tlmt"
)

type service struct {
	client     posthog.Client
	distinctID string
}

// New creates a PostHog-backed telemetry client. Events are batched by the
// PostHog client and flushed on Close.
func New(apiKey, endpoint string) (tlmt.Telemetry, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, eris.Wrap(err, "telemetry: posthog client")
	}

	sum := sha256.Sum256([]byte(tlmt.MachineID()))

	return &service{
		client:     client,
		distinctID: hex.EncodeToString(sum[:8]),
	}, nil
}

func (s *service) Send(_ context.Context, ev tlmt.Event) error {
	props := posthog.NewProperties()
	for k, v := range ev.Properties {
		props.Set(k, v)
	}

	return s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      ev.Name,
		Properties: props,
	})
}

func (s *service) Close() error {
	return s.client.Close()
}
