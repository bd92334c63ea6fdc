package verify

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/coverage"
	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/provider/evidence"
	"github.com/sadewadee/leadscope/internal/provider/websearch"
	"github.com/sadewadee/leadscope/internal/renderer"
	"github.com/sadewadee/leadscope/internal/repository/sqlite"
	"github.com/sadewadee/leadscope/internal/resilience"
)

type staticZones []domain.ZoneSpec

func (z staticZones) Zones(string, int) ([]domain.ZoneSpec, error) { return z, nil }

type fixture struct {
	repos    *sqlite.Repositories
	strategy *domain.CoverageStrategy
	zone     *domain.Zone
	session  *domain.ScrapeSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.OpenConnection(filepath.Join(t.TempDir(), "verify.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(db))
	t.Cleanup(func() { db.Close() })

	repos := sqlite.NewRepositories(db)
	svc := coverage.NewService(repos.Strategies, staticZones{
		{Code: "A", Name: "Denver", Lat: 39.74, Lon: -104.99, RadiusMeters: 2000, PriorityTier: 4},
	}, 2000)

	strategy, _, err := svc.CreateOrGet(ctx, "denver", "plumbers", coverage.Options{})
	require.NoError(t, err)
	session, zone, err := svc.DispatchNextZone(ctx, strategy.ID, domain.PriorityUser)
	require.NoError(t, err)

	return &fixture{repos: repos, strategy: strategy, zone: zone, session: session}
}

func searched(c *domain.Candidate) { c.WebsiteSource = domain.WebsiteSourceSearch }

// add inserts a candidate in the given status
func (f *fixture) add(t *testing.T, name, phone, website string, status domain.VerificationStatus, opts ...func(*domain.Candidate)) *domain.Candidate {
	t.Helper()
	now := time.Now().UTC()
	c := &domain.Candidate{
		ID:         uuid.New(),
		StrategyID: f.strategy.ID,
		ZoneID:     f.zone.ID,
		SessionID:  f.session.ID,
		Region:     f.strategy.Region,
		Category:   f.strategy.Category,
		ExternalID: uuid.NewString(),
		Name:       name,
		Phone:      phone,
		Address:    "1200 Larimer St, Denver, CO 80204",
		Locality:   "Denver",
		Status:     status,
		Evidence:   []domain.TierResult{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if website != "" {
		c.WebsiteURL = &website
		c.WebsiteSource = domain.WebsiteSourceProvider
	}
	for _, o := range opts {
		o(c)
	}
	ok, err := f.repos.Candidates.Insert(context.Background(), c)
	require.NoError(t, err)
	require.True(t, ok)
	return c
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *domain.Candidate {
	t.Helper()
	c, err := f.repos.Candidates.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func fastPolicy() resilience.Policy {
	return resilience.NewPolicy(3, time.Millisecond, 2*time.Millisecond)
}

// fakeSearch answers queries from a table and counts calls
type fakeSearch struct {
	mu      sync.Mutex
	answers map[string][]websearch.Result
	err     error
	calls   int
}

func (f *fakeSearch) Search(_ context.Context, query string) ([]websearch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.answers[query], nil
}

func (f *fakeSearch) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeOracle struct {
	verdict *evidence.Verdict
	err     error
	calls   int
}

func (f *fakeOracle) Score(context.Context, evidence.Facts, []domain.SearchResult) (*evidence.Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

type fakeRenderer struct {
	page  *renderer.Page
	err   error
	calls int
}

func (f *fakeRenderer) Render(context.Context, string, renderer.Options) (*renderer.Page, error) {
	f.calls++
	return f.page, f.err
}

func (f *fakeRenderer) Close() error { return nil }

func businessPage(name, phone string) *renderer.Page {
	html := fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1>
<p>%s</p><a href="tel:%s">Call</a></body></html>`, name, name, longText, phone)
	return &renderer.Page{Title: name, HTML: html, Status: 200, ContentLength: len(html)}
}

const longText = `We have served the neighbourhood for decades with honest work, fair prices and
fast response times. Our licensed team handles repairs, installations and maintenance for homes
and small businesses across the metro area. Call today for a free estimate and same day service.
Satisfaction guaranteed on every job we take, large or small, weekday or weekend.`
