package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/config"
)

func TestSubQueue(t *testing.T) {
	tests := []struct {
		name     string
		pool     Pool
		priority int
		want     string
	}{
		{"critical", PoolAcquisition, 10, "acquisition:critical"},
		{"user", PoolDiscovery, 8, "discovery:high"},
		{"default", PoolConfirmation, 5, "confirmation:default"},
		{"background", PoolDiscovery, 2, "discovery:low"},
		{"zero", PoolAcquisition, 0, "acquisition:low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubQueue(tt.pool, tt.priority))
		})
	}
}

func TestPoolOf(t *testing.T) {
	assert.Equal(t, PoolAcquisition, PoolOf(TypeZoneAcquire))
	assert.Equal(t, PoolDiscovery, PoolOf(TypeCandidateProbe))
	assert.Equal(t, PoolDiscovery, PoolOf(TypeCandidateDiscover))
	assert.Equal(t, PoolConfirmation, PoolOf(TypeCandidateConfirm))
}

func TestBandWeights(t *testing.T) {
	w := bandWeights(PoolDiscovery)
	assert.Len(t, w, 4)
	assert.Greater(t, w["discovery:critical"], w["discovery:high"])
	assert.Greater(t, w["discovery:high"], w["discovery:default"])
	assert.Greater(t, w["discovery:default"], w["discovery:low"])
}

func TestJobIDs(t *testing.T) {
	session, strategy, zone, cand := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	z := NewZoneJob(session, strategy, zone, 8)
	assert.Equal(t, "zone:acquire:"+session.String(), z.ID)
	assert.Equal(t, "acquisition:high", z.Queue())

	c := NewCandidateJob(TypeCandidateConfirm, cand, session, 2)
	assert.Equal(t, "candidate:confirm:"+cand.String(), c.ID)
	assert.Equal(t, "confirmation:low", c.Queue())

	data, err := c.Payload.Marshal()
	require.NoError(t, err)
	back, err := UnmarshalPayload(data)
	require.NoError(t, err)
	assert.Equal(t, cand, back.CandidateID)
	assert.Equal(t, session, back.SessionID)
}

func runMemory(t *testing.T, m *Memory) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitIdle(t *testing.T, m *Memory) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitIdle(ctx))
}

func TestMemory_PriorityOrder(t *testing.T) {
	m := NewMemory(map[Pool]int{PoolDiscovery: 1})

	var mu sync.Mutex
	var order []int
	m.Handle(TypeCandidateProbe, func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, job.Payload.Priority)
		return nil
	})

	ctx := context.Background()
	session := uuid.New()
	for _, p := range []int{2, 2, 8, 5, 10, 2} {
		require.NoError(t, m.Enqueue(ctx, NewCandidateJob(TypeCandidateProbe, uuid.New(), session, p)))
	}

	runMemory(t, m)
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{10, 8, 5, 2, 2, 2}, order)
}

func TestMemory_DeduplicatesByID(t *testing.T) {
	m := NewMemory(map[Pool]int{PoolConfirmation: 2})

	var mu sync.Mutex
	calls := 0
	m.Handle(TypeCandidateConfirm, func(context.Context, Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	job := NewCandidateJob(TypeCandidateConfirm, uuid.New(), uuid.New(), 5)
	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, job))
	require.NoError(t, m.Enqueue(ctx, job))

	runMemory(t, m)
	waitIdle(t, m)

	require.NoError(t, m.Enqueue(ctx, job))
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestMemory_RetriesUntilLastAttempt(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		wantLast  bool
	}{
		{"transient failure", eris.New("boom"), MaxRetry + 1, true},
		{"skip retry", eris.Wrap(ErrSkipRetry, "bad payload"), 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory(map[Pool]int{PoolDiscovery: 1})
			m.SetRetryBackoff(time.Millisecond, 5*time.Millisecond)

			var mu sync.Mutex
			var retries []int
			sawLast := false
			m.Handle(TypeCandidateDiscover, func(ctx context.Context, _ Job) error {
				mu.Lock()
				defer mu.Unlock()
				retry, _ := RetryCount(ctx)
				retries = append(retries, retry)
				if IsLastAttempt(ctx) {
					sawLast = true
				}
				return tt.err
			})

			require.NoError(t, m.Enqueue(context.Background(),
				NewCandidateJob(TypeCandidateDiscover, uuid.New(), uuid.New(), 5)))
			runMemory(t, m)
			waitIdle(t, m)

			mu.Lock()
			defer mu.Unlock()
			assert.Len(t, retries, tt.wantCalls)
			assert.Equal(t, tt.wantLast, sawLast)

			stats, err := m.Stats(context.Background())
			require.NoError(t, err)
			require.Len(t, stats, 1)
			assert.Equal(t, "discovery:default", stats[0].Queue)
			assert.Equal(t, 1, stats[0].Archived)
			assert.Equal(t, 0, stats[0].Pending)
		})
	}
}

func TestMemory_RecoversFromPanic(t *testing.T) {
	m := NewMemory(map[Pool]int{PoolAcquisition: 1})
	m.SetRetryBackoff(time.Millisecond, time.Millisecond)

	var mu sync.Mutex
	calls := 0
	m.Handle(TypeZoneAcquire, func(context.Context, Job) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("first attempt")
		}
		return nil
	})

	require.NoError(t, m.Enqueue(context.Background(), NewZoneJob(uuid.New(), uuid.New(), uuid.New(), 8)))
	runMemory(t, m)
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestMemory_RejectsUnknownPool(t *testing.T) {
	m := NewMemory(map[Pool]int{PoolDiscovery: 1})
	err := m.Enqueue(context.Background(), NewZoneJob(uuid.New(), uuid.New(), uuid.New(), 8))
	assert.Error(t, err)
}

func TestRetryCount_NoAttemptInContext(t *testing.T) {
	retry, max := RetryCount(context.Background())
	assert.Zero(t, retry)
	assert.Zero(t, max)
	assert.True(t, IsLastAttempt(context.Background()))
}

func TestWorker_SkipRetryMapsToAsynq(t *testing.T) {
	w, err := NewWorker(config.RedisConfig{Addr: "localhost:6379"}, map[Pool]int{PoolDiscovery: 1})
	require.NoError(t, err)

	w.Handle(TypeCandidateProbe, func(context.Context, Job) error {
		return eris.Wrap(ErrSkipRetry, "candidate gone")
	})
	w.Handle(TypeCandidateDiscover, func(context.Context, Job) error {
		return eris.New("search timed out")
	})

	payload, err := NewCandidateJob(TypeCandidateProbe, uuid.New(), uuid.New(), 0).Payload.Marshal()
	require.NoError(t, err)

	tests := []struct {
		name     string
		task     *asynq.Task
		skip     bool
		contains string
	}{
		{"handler skip", asynq.NewTask(TypeCandidateProbe, payload), true, "candidate gone"},
		{"bad payload", asynq.NewTask(TypeCandidateProbe, []byte("{")), true, ""},
		{"plain failure", asynq.NewTask(TypeCandidateDiscover, payload), false, "search timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.mux.ProcessTask(context.Background(), tt.task)
			require.Error(t, err)
			assert.Equal(t, tt.skip, errors.Is(err, asynq.SkipRetry))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
