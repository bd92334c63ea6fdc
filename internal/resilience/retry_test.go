package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/domain"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name      string
		failUntil int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{name: "success first try", failUntil: 0, wantCalls: 1},
		{name: "success after transient", failUntil: 2, err: NewTransientError(errors.New("busy"), 503), wantCalls: 3},
		{name: "exhausts attempts", failUntil: 10, err: NewTransientError(errors.New("down"), 500), wantCalls: 3, wantErr: true},
		{name: "provider timeout retried", failUntil: 10, err: domain.ErrProviderTimeout, wantCalls: 3, wantErr: true},
		{name: "permanent error not retried", failUntil: 10, err: errors.New("bad request"), wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fastPolicy(), func(_ context.Context) error {
				calls++
				if calls <= tt.failUntil {
					return tt.err
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastPolicy(), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", domain.ErrProviderQuotaExceeded
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestDoVal_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy()
	p.InitialBackoff = time.Hour
	p.MaxBackoff = time.Hour

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := DoVal(ctx, p, func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("busy"), 503)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestOnRetryCalled(t *testing.T) {
	var attempts []int
	p := fastPolicy()
	p.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), p, func(_ context.Context) error {
		return NewTransientError(errors.New("busy"), 503)
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestBackoff_Capped(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, MaxBackoff: 4 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, Backoff(0, p))
	assert.Equal(t, 2*time.Second, Backoff(1, p))
	assert.Equal(t, 4*time.Second, Backoff(5, p))
}

func TestNewPolicy(t *testing.T) {
	p := NewPolicy(0, 0, 0)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialBackoff)

	p = NewPolicy(5, time.Second, time.Minute)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Minute, p.MaxBackoff)
}
