package heartbeat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/coverage"
	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/progress"
	"github.com/sadewadee/leadscope/internal/repository/sqlite"
)

type staticZones []domain.ZoneSpec

func (z staticZones) Zones(string, int) ([]domain.ZoneSpec, error) { return z, nil }

func setup(t *testing.T) (*sqlite.Repositories, *coverage.Service, *domain.CoverageStrategy) {
	t.Helper()
	db, err := sqlite.OpenConnection(filepath.Join(t.TempDir(), "heartbeat.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(db))
	t.Cleanup(func() { db.Close() })

	repos := sqlite.NewRepositories(db)
	svc := coverage.NewService(repos.Strategies, staticZones{
		{Code: "A", Name: "Downtown", Lat: 39.74, Lon: -104.99, RadiusMeters: 2000, PriorityTier: 2},
	}, 2000)
	strategy, _, err := svc.CreateOrGet(context.Background(), "denver", "plumbers", coverage.Options{})
	require.NoError(t, err)
	return repos, svc, strategy
}

func TestMonitor_FailsStaleSessions(t *testing.T) {
	ctx := context.Background()
	repos, svc, strategy := setup(t)

	session, zone, err := svc.DispatchNextZone(ctx, strategy.ID, domain.PriorityUser)
	require.NoError(t, err)

	bus := progress.NewMemory()
	sub, err := bus.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	defer sub.Close()

	m := NewMonitor(repos.Workers, repos.Sessions, repos.Candidates, svc, bus, time.Minute, 15*time.Minute)

	res := m.Check(ctx)
	assert.Zero(t, res.SessionsFailed, "fresh session is not stale")

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	res = m.Check(ctx)
	assert.Equal(t, 1, res.SessionsFailed)

	got, err := repos.Sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateFailed, got.State)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "OrchestratorUnavailable", *got.FailureReason)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, domain.EventScrapeFailed, ev.Type)
		assert.Equal(t, "OrchestratorUnavailable", ev.Payload["reason"])
	case <-time.After(time.Second):
		t.Fatal("no scrape_failed event")
	}

	next, err := svc.GetNextZone(ctx, strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, zone.ID, next.ID)

	res = m.Check(ctx)
	assert.Zero(t, res.SessionsFailed)
}

func TestMonitor_ReconcilesCompletedSessions(t *testing.T) {
	ctx := context.Background()
	repos, svc, strategy := setup(t)

	session, _, err := svc.DispatchNextZone(ctx, strategy.ID, domain.PriorityUser)
	require.NoError(t, err)

	ok, err := repos.Sessions.Transition(ctx, session.ID, domain.SessionStateQueued, domain.SessionStateScraping)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repos.Sessions.SetAcquired(ctx, session.ID, 4, 0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repos.Sessions.Complete(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, ok)

	m := NewMonitor(nil, repos.Sessions, repos.Candidates, svc, nil, time.Minute, 0)

	res := m.Check(ctx)
	assert.Equal(t, 1, res.Reconciled)

	got, err := svc.Get(ctx, strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ZonesCompleted)

	res = m.Check(ctx)
	assert.Zero(t, res.Reconciled)
}

func stalledCandidate(s *domain.CoverageStrategy, session *domain.ScrapeSession, id string, status domain.VerificationStatus, touched time.Time) *domain.Candidate {
	return &domain.Candidate{
		ID:         uuid.New(),
		StrategyID: s.ID,
		ZoneID:     session.ZoneID,
		SessionID:  session.ID,
		Region:     s.Region,
		Category:   s.Category,
		ExternalID: id,
		Name:       "Acme " + id,
		Status:     status,
		CreatedAt:  touched,
		UpdatedAt:  touched,
	}
}

func TestMonitor_SettlesStalledValidation(t *testing.T) {
	ctx := context.Background()
	repos, svc, strategy := setup(t)

	session, _, err := svc.DispatchNextZone(ctx, strategy.ID, domain.PriorityUser)
	require.NoError(t, err)
	ok, err := repos.Sessions.Transition(ctx, session.ID, domain.SessionStateQueued, domain.SessionStateScraping)
	require.NoError(t, err)
	require.True(t, ok)

	now := time.Now().UTC()
	orphan := stalledCandidate(strategy, session, "p1", domain.StatusBrowserQueued, now)
	busy := stalledCandidate(strategy, session, "p2", domain.StatusDeepVerifying, now.Add(20*time.Minute))
	for _, c := range []*domain.Candidate{orphan, busy} {
		_, err := repos.Candidates.Insert(ctx, c)
		require.NoError(t, err)
	}
	ok, err = repos.Sessions.SetAcquired(ctx, session.ID, 2, 2)
	require.NoError(t, err)
	require.True(t, ok)

	bus := progress.NewMemory()
	sub, err := bus.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	defer sub.Close()

	m := NewMonitor(nil, repos.Sessions, repos.Candidates, svc, bus, time.Minute, 15*time.Minute)

	// the deep tier touched p2 after the cutoff; its job is still alive
	m.now = func() time.Time { return now.Add(30 * time.Minute) }
	res := m.Check(ctx)
	assert.Zero(t, res.SessionsFailed)
	assert.Zero(t, res.SessionsSettled)

	got, err := repos.Candidates.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnresolved, got.Status)
	require.NotNil(t, got.UnresolvedReason)
	assert.Equal(t, "OrchestratorUnavailable", *got.UnresolvedReason)

	got, err = repos.Candidates.GetByID(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeepVerifying, got.Status)

	m.now = func() time.Time { return now.Add(2 * time.Hour) }
	res = m.Check(ctx)
	assert.Equal(t, 1, res.SessionsSettled)
	assert.Equal(t, 1, res.Reconciled)

	final, err := repos.Sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateCompleted, final.State)
	assert.Equal(t, 2, final.Counts.Validated)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, domain.EventScrapeComplete, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no scrape_complete event")
	}

	s, err := svc.Get(ctx, strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ZonesCompleted)
}

func TestBeaterAndMonitor_Workers(t *testing.T) {
	ctx := context.Background()
	repos, _, _ := setup(t)

	b := NewBeater(repos.Workers, "worker-1", map[string]int{"discovery": 8}, time.Minute)
	b.stats = func(context.Context) (float64, float64) { return 12.5, 40 }
	require.NoError(t, b.Beat(ctx, domain.WorkerStatusOnline))

	workers, err := repos.Workers.List(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	w := workers[0]
	assert.Equal(t, "worker-1", w.ID)
	assert.Equal(t, domain.WorkerStatusOnline, w.Status)
	assert.Equal(t, []string{"discovery"}, w.Pools)
	assert.Equal(t, 8, w.Concurrency["discovery"])
	assert.InDelta(t, 12.5, w.CPUPercent, 0.001)
	assert.InDelta(t, 40, w.MemoryPercent, 0.001)

	m := NewMonitor(repos.Workers, repos.Sessions, nil, nil, nil, time.Minute, 0)
	assert.Zero(t, m.Check(ctx).WorkersOffline)

	m.workerTimeout = -time.Minute
	assert.Equal(t, 1, m.Check(ctx).WorkersOffline)

	workers, err = repos.Workers.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusOffline, workers[0].Status)
}

func TestBeater_RunMarksOfflineOnStop(t *testing.T) {
	repos, _, _ := setup(t)

	b := NewBeater(repos.Workers, "worker-2", map[string]int{"confirmation": 3}, time.Hour)
	b.stats = func(context.Context) (float64, float64) { return 0, 0 }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		ws, err := repos.Workers.List(context.Background())
		return err == nil && len(ws) == 1 && ws[0].Status == domain.WorkerStatusOnline
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	ws, err := repos.Workers.List(context.Background())
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, domain.WorkerStatusOffline, ws[0].Status)
}
