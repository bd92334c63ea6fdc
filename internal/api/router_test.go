package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/api/handlers"
	"github.com/sadewadee/leadscope/internal/cache"
	"github.com/sadewadee/leadscope/internal/coverage"
	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/orchestrator"
	"github.com/sadewadee/leadscope/internal/progress"
	"github.com/sadewadee/leadscope/internal/queue"
	"github.com/sadewadee/leadscope/internal/regions"
	"github.com/sadewadee/leadscope/internal/repository/sqlite"
	"github.com/sadewadee/leadscope/internal/service"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type testServer struct {
	handler http.Handler
	repos   *sqlite.Repositories
	queue   *recordingQueue
	bus     *progress.Memory
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()

	db, err := sqlite.OpenConnection(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(db))
	t.Cleanup(func() { db.Close() })

	catalog, err := regions.Load("")
	require.NoError(t, err)

	repos := sqlite.NewRepositories(db)
	cov := coverage.NewService(repos.Strategies, catalog, 0)
	q := &recordingQueue{}
	bus := progress.NewMemory()
	orch := orchestrator.New(orchestrator.Deps{
		Coverage:   cov,
		Strategies: repos.Strategies,
		Sessions:   repos.Sessions,
		Candidates: repos.Candidates,
		Queue:      q,
		Bus:        bus,
	})

	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })

	router := NewRouter(
		handlers.NewStrategyHandler(cov, orch, nil),
		handlers.NewSessionHandler(service.NewSessionService(repos.Sessions, repos.Strategies, c), bus, time.Second),
		handlers.NewCandidateHandler(service.NewCandidateService(repos.Candidates), cov),
		handlers.NewRegionHandler(catalog),
		handlers.NewWorkerHandler(service.NewWorkerService(repos.Workers)),
		handlers.NewStatsHandler(service.NewStatsService(repos.Stats, nil, c)),
	)
	return &testServer{handler: router.Setup(token, nil), repos: repos, queue: q, bus: bus}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) createStrategy(t *testing.T) domain.StartCoverageResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v2/strategies", `{"region":"denver","category":"plumbers"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp domain.StartCoverageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateStrategy(t *testing.T) {
	srv := newTestServer(t, "")

	first := srv.createStrategy(t)
	assert.True(t, first.Created)
	assert.Greater(t, first.ZoneCount, 0)

	t.Run("existing strategy is returned", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/v2/strategies", `{"region":"denver","category":"plumbers"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp domain.StartCoverageResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, first.StrategyID, resp.StrategyID)
		assert.False(t, resp.Created)
	})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed body", `{"region":`, http.StatusBadRequest},
		{"missing category", `{"region":"denver"}`, http.StatusBadRequest},
		{"unknown region", `{"region":"atlantis","category":"plumbers"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/v2/strategies", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestGetStrategy(t *testing.T) {
	srv := newTestServer(t, "")
	created := srv.createStrategy(t)

	w := srv.do(t, http.MethodGet, "/api/v2/strategies/"+created.StrategyID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"percentage":0`)

	w = srv.do(t, http.MethodGet, "/api/v2/strategies/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, http.MethodGet, "/api/v2/strategies/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNextZone(t *testing.T) {
	srv := newTestServer(t, "")
	created := srv.createStrategy(t)
	path := "/api/v2/strategies/" + created.StrategyID.String() + "/next"

	peek := srv.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, peek.Code)
	var zone domain.Zone
	require.NoError(t, json.Unmarshal(peek.Body.Bytes(), &zone))

	w := srv.do(t, http.MethodPost, path, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		SessionID uuid.UUID `json:"session_id"`
		ZoneID    uuid.UUID `json:"zone_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, zone.ID, resp.ZoneID)
	require.Len(t, srv.queue.jobs, 1)

	session := srv.do(t, http.MethodGet, "/api/v2/sessions/"+resp.SessionID.String(), "")
	require.Equal(t, http.StatusOK, session.Code)
	assert.Contains(t, session.Body.String(), `"state":"queued"`)

	t.Run("queue unavailable", func(t *testing.T) {
		srv.queue.err = eris.New("dial tcp: connection refused")
		defer func() { srv.queue.err = nil }()

		w := srv.do(t, http.MethodPost, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "OrchestratorUnavailable")
	})

	t.Run("unknown strategy", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/v2/strategies/"+uuid.NewString()+"/next", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSessionNotFound(t *testing.T) {
	srv := newTestServer(t, "")

	w := srv.do(t, http.MethodGet, "/api/v2/sessions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, http.MethodGet, "/api/v2/sessions/"+uuid.NewString()+"/stream", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStream_TerminalSession(t *testing.T) {
	srv := newTestServer(t, "")
	created := srv.createStrategy(t)

	w := srv.do(t, http.MethodPost, "/api/v2/strategies/"+created.StrategyID.String()+"/next", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	ok, err := srv.repos.Sessions.Fail(context.Background(), resp.SessionID, "ProviderTimeout")
	require.NoError(t, err)
	require.True(t, ok)

	stream := srv.do(t, http.MethodGet, "/api/v2/sessions/"+resp.SessionID.String()+"/stream", "")
	require.Equal(t, http.StatusOK, stream.Code)
	assert.Equal(t, "text/event-stream", stream.Header().Get("Content-Type"))

	body := stream.Body.String()
	snapshot := strings.Index(body, "event: snapshot")
	failed := strings.Index(body, "event: scrape_failed")
	require.GreaterOrEqual(t, snapshot, 0)
	require.Greater(t, failed, snapshot)
	assert.Contains(t, body, "ProviderTimeout")
}

func (s *testServer) startSession(t *testing.T) uuid.UUID {
	t.Helper()
	created := s.createStrategy(t)
	w := s.do(t, http.MethodPost, "/api/v2/strategies/"+created.StrategyID.String()+"/next", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.SessionID
}

// openStream connects to a session stream over a real listener and returns
// a function yielding the next event name, or "" once the stream closed.
func (s *testServer) openStream(t *testing.T, sessionID uuid.UUID) func() string {
	t.Helper()
	ts := httptest.NewServer(s.handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v2/sessions/" + sessionID.String() + "/stream")
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	return func() string {
		select {
		case name := <-events:
			return name
		case <-time.After(5 * time.Second):
			t.Fatal("stream stalled")
			return ""
		}
	}
}

func TestStream_LiveSession(t *testing.T) {
	srv := newTestServer(t, "")
	sessionID := srv.startSession(t)
	ctx := context.Background()

	next := srv.openStream(t, sessionID)
	require.Equal(t, "snapshot", next())

	srv.bus.Publish(ctx, domain.NewEvent(sessionID, domain.EventScrapingStarted, map[string]any{"zone_code": "A"}))
	assert.Equal(t, string(domain.EventScrapingStarted), next())

	srv.bus.Publish(ctx, domain.NewEvent(sessionID, domain.EventScrapeComplete, map[string]any{"scraped": 0}))
	assert.Equal(t, string(domain.EventScrapeComplete), next())
	assert.Equal(t, "", next(), "stream closes after a terminal event")
}

func TestStream_HeartbeatNoticesTerminalSession(t *testing.T) {
	srv := newTestServer(t, "")
	sessionID := srv.startSession(t)

	next := srv.openStream(t, sessionID)
	require.Equal(t, "snapshot", next())

	// no bus event: only the heartbeat reload can see this
	ok, err := srv.repos.Sessions.Fail(context.Background(), sessionID, "OrchestratorUnavailable")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "heartbeat", next())
	assert.Equal(t, "snapshot", next())
	assert.Equal(t, string(domain.EventScrapeFailed), next())
	assert.Equal(t, "", next())
}

func TestDownloadCandidates(t *testing.T) {
	srv := newTestServer(t, "")
	created := srv.createStrategy(t)
	path := "/api/v2/strategies/" + created.StrategyID.String() + "/candidates/download"

	w := srv.do(t, http.MethodGet, path+"?format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	assert.True(t, strings.HasPrefix(w.Body.String(), "id,name,phone"))

	w = srv.do(t, http.MethodGet, path+"?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, http.MethodGet, "/api/v2/strategies/"+uuid.NewString()+"/candidates/download", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegionsAndStats(t *testing.T) {
	srv := newTestServer(t, "")

	w := srv.do(t, http.MethodGet, "/api/v2/regions/denver", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"key":"denver"`)

	w = srv.do(t, http.MethodGet, "/api/v2/regions/atlantis", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, http.MethodGet, "/api/v2/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodGet, "/api/v2/queues", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"queues":[]}`, w.Body.String())
}

func TestRouterRequiresToken(t *testing.T) {
	srv := newTestServer(t, "secret")

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, srv.do(t, http.MethodGet, "/api/v2/stats", "").Code)
	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/api/v2/stats?api_key=secret", "").Code)
}
