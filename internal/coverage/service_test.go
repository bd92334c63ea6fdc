package coverage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/regions"
	"github.com/sadewadee/leadscope/internal/repository/sqlite"
)

func newTestService(t *testing.T) (*Service, *sqlite.Repositories) {
	t.Helper()
	db, err := sqlite.OpenConnection(filepath.Join(t.TempDir(), "coverage.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(db))
	t.Cleanup(func() { db.Close() })

	catalog, err := regions.Load("")
	require.NoError(t, err)

	repos := sqlite.NewRepositories(db)
	return NewService(repos.Strategies, catalog, 3000), repos
}

type staticZones []domain.ZoneSpec

func (z staticZones) Zones(string, int) ([]domain.ZoneSpec, error) { return z, nil }

func TestService_CreateOrGet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	first, created, err := svc.CreateOrGet(ctx, "Denver", "Plumbers", Options{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Greater(t, first.ZonesTotal, 0)

	again, created, err := svc.CreateOrGet(ctx, " denver ", "plumbers", Options{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	regenerated, created, err := svc.CreateOrGet(ctx, "denver", "plumbers", Options{Regenerate: true})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, regenerated.ID)

	old, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStatusSuperseded, old.Status)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, regenerated.ID, *old.SupersededBy)

	_, err = svc.GetNextZone(ctx, first.ID)
	assert.True(t, errors.Is(err, domain.ErrNoZonesRemaining))

	_, _, err = svc.CreateOrGet(ctx, "atlantis", "plumbers", Options{})
	assert.True(t, errors.Is(err, domain.ErrRegionUnknown))
}

func TestService_CreateOrGet_Concurrent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	ids := make([]uuid.UUID, 5)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := svc.CreateOrGet(ctx, "austin", "dentists", Options{})
			if assert.NoError(t, err) {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestService_DispatchOrdersAndNeverRepeats(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t)
	svc.zones = staticZones{
		{Code: "low", Name: "low", PriorityTier: 1, RadiusMeters: 1000},
		{Code: "dense", Name: "dense", PriorityTier: 3, EstimatedDensity: 9, RadiusMeters: 1000},
		{Code: "sparse", Name: "sparse", PriorityTier: 3, EstimatedDensity: 2, RadiusMeters: 1000},
	}

	strategy, _, err := svc.CreateOrGet(ctx, "test", "cafes", Options{})
	require.NoError(t, err)

	next, err := svc.GetNextZone(ctx, strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, "dense", next.Code)

	var order []string
	seen := map[uuid.UUID]bool{}
	for {
		session, zone, err := svc.DispatchNextZone(ctx, strategy.ID, domain.PriorityUser)
		if errors.Is(err, domain.ErrNoZonesRemaining) {
			break
		}
		require.NoError(t, err)
		assert.False(t, seen[zone.ID], "zone %s dispatched twice", zone.Code)
		seen[zone.ID] = true
		assert.Equal(t, zone.ID, session.ZoneID)
		assert.Equal(t, domain.PriorityUser, session.Priority)
		order = append(order, zone.Code)
	}
	assert.Equal(t, []string{"dense", "sparse", "low"}, order)

	// sessions are in flight, so nothing is offered
	_, err = svc.GetNextZone(ctx, strategy.ID)
	assert.True(t, errors.Is(err, domain.ErrNoZonesRemaining))

	// a failed session makes its zone eligible again
	sessions, _, err := repos.Sessions.List(ctx, domain.SessionListParams{StrategyID: &strategy.ID})
	require.NoError(t, err)
	ok, err := repos.Sessions.Fail(ctx, sessions[0].ID, "ProviderTimeout")
	require.NoError(t, err)
	require.True(t, ok)

	zone, err := svc.GetNextZone(ctx, strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, sessions[0].ZoneID, zone.ID)
}

func TestService_MarkZoneComplete_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	svc.zones = staticZones{
		{Code: "a", Name: "a", PriorityTier: 2, RadiusMeters: 1000},
		{Code: "b", Name: "b", PriorityTier: 1, RadiusMeters: 1000},
	}

	strategy, _, err := svc.CreateOrGet(ctx, "test", "bakeries", Options{})
	require.NoError(t, err)
	zones, err := svc.Zones(ctx, strategy.ID)
	require.NoError(t, err)
	require.Len(t, zones, 2)

	counts := domain.ZoneCounts{Total: 12, Scraped: 10, Validated: 10, Discovered: 4}
	applied, err := svc.MarkZoneComplete(ctx, zones[0].ID, counts)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.MarkZoneComplete(ctx, zones[0].ID, counts)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := svc.Get(ctx, strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ZonesCompleted)
	assert.Equal(t, 10, got.BusinessesFound)
	assert.Equal(t, domain.StrategyStatusActive, got.Status)

	_, err = svc.MarkZoneComplete(ctx, zones[1].ID, domain.ZoneCounts{})
	require.NoError(t, err)

	got, err = svc.Get(ctx, strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStatusExhausted, got.Status)

	_, _, err = svc.DispatchNextZone(ctx, strategy.ID, domain.PriorityUser)
	assert.True(t, errors.Is(err, domain.ErrNoZonesRemaining))

	// exhausted strategies are returned as-is
	same, created, err := svc.CreateOrGet(ctx, "test", "bakeries", Options{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, strategy.ID, same.ID)
}

func TestService_UnknownStrategy(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.GetNextZone(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrStrategyNotFound))

	_, _, err = svc.DispatchNextZone(ctx, uuid.New(), domain.PriorityUser)
	assert.True(t, errors.Is(err, domain.ErrStrategyNotFound))
}
