package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/domain"
)

func TestProber_Probe(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "head ok",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			wantStatus: http.StatusOK,
		},
		{
			name: "head rejected falls back to get",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodHead {
					w.WriteHeader(http.StatusMethodNotAllowed)
					return
				}
				w.WriteHeader(http.StatusOK)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "gone",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusGone) },
			wantStatus: http.StatusGone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewProber(nil, time.Second, fastPolicy())
			status, err := p.Probe(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestProber_Check(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	p := NewProber(f.repos.Candidates, time.Second, fastPolicy())

	tests := []struct {
		name        string
		website     string
		wantStatus  domain.VerificationStatus
		wantNext    domain.Tier
		wantOutcome string
	}{
		{name: "reachable", website: ok.URL, wantStatus: domain.StatusHTTPCheckedOK, wantNext: domain.TierBrowser, wantOutcome: domain.OutcomeProbeOK},
		{name: "not found", website: broken.URL, wantStatus: domain.StatusHTTPCheckedFail, wantNext: domain.TierDeep, wantOutcome: domain.OutcomeProbeFail},
		{name: "no website", website: "", wantStatus: domain.StatusHTTPCheckedFail, wantNext: domain.TierDeep, wantOutcome: domain.OutcomeNoWebsite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := f.add(t, "Acme "+tt.name, "3035550100", tt.website, domain.StatusUnverified)

			out, err := p.Check(ctx, c)
			require.NoError(t, err)
			assert.True(t, out.Applied)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantNext, out.Next)

			stored := f.reload(t, c.ID)
			assert.Equal(t, tt.wantStatus, stored.Status)
			ev := stored.LatestEvidence(domain.TierProbe)
			require.NotNil(t, ev)
			assert.Equal(t, tt.wantOutcome, ev.Outcome)

			// redelivery is a no-op
			again, err := p.Check(ctx, stored)
			require.NoError(t, err)
			assert.False(t, again.Applied)
			assert.Len(t, f.reload(t, c.ID).Evidence, 1)
		})
	}
}

func TestProber_TransientRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(nil, 50*time.Millisecond, fastPolicy())
	status, err := p.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
}
