package scraper

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/coverage"
	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/provider/places"
	"github.com/sadewadee/leadscope/internal/provider/places/mocks"
	"github.com/sadewadee/leadscope/internal/repository/sqlite"
	"github.com/sadewadee/leadscope/internal/resilience"
)

type staticZones []domain.ZoneSpec

func (z staticZones) Zones(string, int) ([]domain.ZoneSpec, error) { return z, nil }

type fixture struct {
	repos    *sqlite.Repositories
	coverage *coverage.Service
	strategy *domain.CoverageStrategy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.OpenConnection(filepath.Join(t.TempDir(), "scraper.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(db))
	t.Cleanup(func() { db.Close() })

	repos := sqlite.NewRepositories(db)
	zones := staticZones{
		{Code: "A", Name: "Downtown", Lat: 39.74, Lon: -104.99, RadiusMeters: 2000, PriorityTier: 4, EstimatedDensity: 9},
		{Code: "B", Name: "Highlands", Lat: 39.76, Lon: -105.01, RadiusMeters: 2000, PriorityTier: 3, EstimatedDensity: 5},
	}
	svc := coverage.NewService(repos.Strategies, zones, 2000)

	strategy, _, err := svc.CreateOrGet(context.Background(), "denver", "plumbers", coverage.Options{})
	require.NoError(t, err)

	return &fixture{repos: repos, coverage: svc, strategy: strategy}
}

func (f *fixture) dispatch(t *testing.T) (*domain.ScrapeSession, *domain.Zone) {
	t.Helper()
	session, zone, err := f.coverage.DispatchNextZone(context.Background(), f.strategy.ID, domain.PriorityUser)
	require.NoError(t, err)
	return session, zone
}

func fastPolicy() resilience.Policy {
	return resilience.NewPolicy(3, time.Millisecond, 2*time.Millisecond)
}

func place(id, name, site string) places.Place {
	return places.Place{
		ID:                  id,
		DisplayName:         places.LocalizedText{Text: name},
		NationalPhoneNumber: "(303) 555-0100",
		FormattedAddress:    "100 Main St, Denver, CO",
		WebsiteURI:          site,
		Location:            &places.LatLng{Latitude: 39.74, Longitude: -104.99},
	}
}

func TestScraper_Scrape(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, zone := f.dispatch(t)

	client := mocks.NewMockClient(t)
	client.On("SearchNearby", mock.Anything, mock.MatchedBy(func(q places.Query) bool {
		return q.PageToken == "" && q.Text == "plumbers" && q.RadiusM == 2000
	})).Return(&places.Page{
		Places: []places.Place{
			place("p1", "Acme Plumbing", "acmeplumbing.com"),
			place("p2", "Bolt Pipes", ""),
			{ID: "", DisplayName: places.LocalizedText{Text: "No Id"}},
		},
		NextPageToken: "next",
	}, nil).Once()
	client.On("SearchNearby", mock.Anything, mock.MatchedBy(func(q places.Query) bool {
		return q.PageToken == "next"
	})).Return(&places.Page{
		Places: []places.Place{place("p1", "Acme Plumbing", "acmeplumbing.com")},
	}, nil).Once()

	s := New(client, f.repos.Candidates, NewMemoryDeduper(), Config{MaxPages: 3, Policy: fastPolicy()})
	res, err := s.Scrape(ctx, f.strategy, zone, session.ID)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Total)
	assert.Len(t, res.Inserted, 2)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Malformed)
	assert.Empty(t, res.Warnings)

	stored, total, err := f.repos.Candidates.List(ctx, domain.CandidateListParams{SessionID: &session.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, c := range stored {
		assert.Equal(t, domain.StatusUnverified, c.Status)
		if c.ExternalID == "p1" {
			assert.Equal(t, "https://acmeplumbing.com", c.Website())
			assert.Equal(t, domain.WebsiteSourceProvider, c.WebsiteSource)
		} else {
			assert.False(t, c.HasWebsite())
		}
	}
}

func TestScraper_ProviderTimeoutFailsZone(t *testing.T) {
	f := newFixture(t)
	session, zone := f.dispatch(t)

	client := mocks.NewMockClient(t)
	client.On("SearchNearby", mock.Anything, mock.Anything).
		Return(nil, resilience.ClassifyTransport("places", context.DeadlineExceeded)).
		Times(3)

	s := New(client, f.repos.Candidates, nil, Config{Policy: fastPolicy()})
	res, err := s.Scrape(context.Background(), f.strategy, zone, session.ID)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, domain.ErrProviderTimeout))
	assert.Equal(t, "ProviderTimeout", domain.ReasonOf(err))
}

func TestScraper_LaterPageFailureKeepsResults(t *testing.T) {
	f := newFixture(t)
	session, zone := f.dispatch(t)

	client := mocks.NewMockClient(t)
	client.On("SearchNearby", mock.Anything, mock.MatchedBy(func(q places.Query) bool {
		return q.PageToken == ""
	})).Return(&places.Page{
		Places:        []places.Place{place("p1", "Acme Plumbing", "")},
		NextPageToken: "next",
	}, nil).Once()
	client.On("SearchNearby", mock.Anything, mock.MatchedBy(func(q places.Query) bool {
		return q.PageToken == "next"
	})).Return(nil, resilience.ClassifyHTTP("places", 429, "slow down")).Times(3)

	s := New(client, f.repos.Candidates, nil, Config{Policy: fastPolicy()})
	res, err := s.Scrape(context.Background(), f.strategy, zone, session.ID)
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 1)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "ProviderQuotaExceeded")
}

func TestScraper_DedupAcrossZones(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	dedup := NewMemoryDeduper()
	shared := place("shared", "Corner Plumbing", "cornerplumbing.com")

	for i := 0; i < 2; i++ {
		session, zone := f.dispatch(t)

		client := mocks.NewMockClient(t)
		client.On("SearchNearby", mock.Anything, mock.Anything).
			Return(&places.Page{Places: []places.Place{shared}}, nil).Once()

		s := New(client, f.repos.Candidates, dedup, Config{Policy: fastPolicy()})
		res, err := s.Scrape(ctx, f.strategy, zone, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)
		if i == 0 {
			assert.Len(t, res.Inserted, 1)
		} else {
			assert.Empty(t, res.Inserted)
			assert.Equal(t, 1, res.Duplicates)
		}
	}

	_, total, err := f.repos.Candidates.List(ctx, domain.CandidateListParams{StrategyID: &f.strategy.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestScraper_UniqueIndexWithoutDeduper(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shared := place("shared", "Corner Plumbing", "")

	for i := 0; i < 2; i++ {
		session, zone := f.dispatch(t)
		client := mocks.NewMockClient(t)
		client.On("SearchNearby", mock.Anything, mock.Anything).
			Return(&places.Page{Places: []places.Place{shared}}, nil).Once()

		res, err := New(client, f.repos.Candidates, nil, Config{Policy: fastPolicy()}).
			Scrape(ctx, f.strategy, zone, session.ID)
		require.NoError(t, err)
		assert.Equal(t, i, res.Duplicates)
	}
}

func TestToCandidate(t *testing.T) {
	strategy := domain.NewStrategy("denver", "plumbers", 1)
	zone := &domain.Zone{Name: "Downtown"}

	_, err := ToCandidate(places.Place{ID: "x"}, strategy, zone, strategy.ID)
	assert.True(t, errors.Is(err, domain.ErrMalformedCandidate))

	c, err := ToCandidate(place("p", "Acme", "mailto:info@acme.com"), strategy, zone, strategy.ID)
	require.NoError(t, err)
	assert.False(t, c.HasWebsite())
	assert.Equal(t, "Downtown", c.Locality)
	assert.Equal(t, "denver", c.Region)
}

// flakyInsert fails the first n inserts
type flakyInsert struct {
	domain.CandidateRepository
	n int
}

func (f *flakyInsert) Insert(ctx context.Context, c *domain.Candidate) (bool, error) {
	if f.n > 0 {
		f.n--
		return false, errors.New("database is locked")
	}
	return f.CandidateRepository.Insert(ctx, c)
}

func TestScraper_FailedInsertIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, zone := f.dispatch(t)

	dedup := NewMemoryDeduper()
	repo := &flakyInsert{CandidateRepository: f.repos.Candidates, n: 1}
	biz := place("p1", "Corner Plumbing", "cornerplumbing.com")

	client := mocks.NewMockClient(t)
	client.On("SearchNearby", mock.Anything, mock.Anything).
		Return(&places.Page{Places: []places.Place{biz}}, nil).Twice()

	s := New(client, repo, dedup, Config{Policy: fastPolicy()})

	_, err := s.Scrape(ctx, f.strategy, zone, session.ID)
	require.Error(t, err)

	seen, err := dedup.Seen(ctx, DedupKey(f.strategy.Region, f.strategy.Category, "p1"))
	require.NoError(t, err)
	assert.False(t, seen)

	res, err := s.Scrape(ctx, f.strategy, zone, session.ID)
	require.NoError(t, err)
	require.Len(t, res.Inserted, 1)
	assert.Zero(t, res.Duplicates)

	seen, err = dedup.Seen(ctx, DedupKey(f.strategy.Region, f.strategy.Category, "p1"))
	require.NoError(t, err)
	assert.True(t, seen)
}
