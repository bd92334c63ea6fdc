package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sadewadee/leadscope/internal/domain"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "explicit", err: NewTransientError(errors.New("x"), 503), expected: true},
		{name: "wrapped explicit", err: fmt.Errorf("call: %w", NewTransientError(errors.New("x"), 429)), expected: true},
		{name: "provider timeout", err: domain.ErrProviderTimeout, expected: true},
		{name: "quota", err: fmt.Errorf("places: %w", domain.ErrProviderQuotaExceeded), expected: true},
		{name: "deadline", err: context.DeadlineExceeded, expected: true},
		{name: "conn reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), expected: true},
		{name: "pattern", err: errors.New("dial tcp: i/o timeout"), expected: true},
		{name: "malformed", err: domain.ErrMalformedCandidate, expected: false},
		{name: "plain", err: errors.New("invalid input"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		sentinel  error
		transient bool
	}{
		{name: "quota", status: 429, sentinel: domain.ErrProviderQuotaExceeded, transient: true},
		{name: "gateway timeout", status: 504, sentinel: domain.ErrProviderTimeout, transient: true},
		{name: "server error", status: 502, transient: true},
		{name: "client error", status: 400, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyHTTP("jina", tt.status, "body")
			assert.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestClassifyTransport(t *testing.T) {
	assert.NoError(t, ClassifyTransport("places", nil))
	assert.ErrorIs(t, ClassifyTransport("places", context.DeadlineExceeded), domain.ErrProviderTimeout)
	assert.NotErrorIs(t, ClassifyTransport("places", errors.New("boom")), domain.ErrProviderTimeout)
}
