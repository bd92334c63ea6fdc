package tlmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEvent(t *testing.T) {
	ev := NewEvent(EventWorkerStarted, map[string]any{"pools": 3})
	assert.Equal(t, EventWorkerStarted, ev.Name)
	assert.Equal(t, 3, ev.Properties["pools"])
	assert.NotEmpty(t, ev.Properties["goos"])

	empty := NewEvent(EventSessionFinished, nil)
	assert.Contains(t, empty.Properties, "goarch")
}
