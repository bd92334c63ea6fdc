package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/renderer"
)

type memShots struct {
	keys []string
}

func (m *memShots) Put(_ context.Context, id uuid.UUID, _ []byte) (string, error) {
	key := "shots/" + id.String() + ".png"
	m.keys = append(m.keys, key)
	return key, nil
}

func TestConfirmer_Confirm(t *testing.T) {
	parked := &renderer.Page{
		Title:         "acme.com is for sale",
		HTML:          "<html><head><title>acme.com is for sale</title></head><body>" + longText + "</body></html>",
		Status:        200,
		ContentLength: 2000,
	}

	tests := []struct {
		name       string
		source     domain.WebsiteSource
		page       *renderer.Page
		err        error
		wantStatus domain.VerificationStatus
		wantReason string
	}{
		{
			name:       "valid page confirms",
			source:     domain.WebsiteSourceProvider,
			page:       businessPage("Acme Plumbing", "303-555-0100"),
			wantStatus: domain.StatusConfirmedWebsite,
		},
		{
			name:       "invalid page goes to review",
			source:     domain.WebsiteSourceSearch,
			page:       parked,
			wantStatus: domain.StatusNeedsManualReview,
			wantReason: "render_invalid",
		},
		{
			name:       "render exhausted on provider url is unresolved",
			source:     domain.WebsiteSourceProvider,
			err:        errors.New("net::ERR_NAME_NOT_RESOLVED"),
			wantStatus: domain.StatusUnresolved,
			wantReason: "net::ERR_NAME_NOT_RESOLVED",
		},
		{
			name:       "render exhausted on searched url needs review",
			source:     domain.WebsiteSourceSearch,
			err:        errors.New("timeout"),
			wantStatus: domain.StatusNeedsManualReview,
			wantReason: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			var opts []func(*domain.Candidate)
			if tt.source == domain.WebsiteSourceSearch {
				opts = append(opts, searched)
			}
			c := f.add(t, "Acme Plumbing", "303-555-0100", "https://acmeplumbing.com", domain.StatusBrowserQueued, opts...)

			r := &fakeRenderer{page: tt.page, err: tt.err}
			conf := NewConfirmer(f.repos.Candidates, r, nil, nil, ConfirmConfig{MinContentLength: 100, Policy: fastPolicy()})

			out, err := conf.Confirm(ctx, c)
			require.NoError(t, err)
			assert.True(t, out.Applied)
			assert.Equal(t, tt.wantStatus, out.Status)
			if tt.err != nil {
				assert.Equal(t, 3, r.calls)
			}

			stored := f.reload(t, c.ID)
			assert.Equal(t, tt.wantStatus, stored.Status)
			if tt.wantReason != "" {
				require.NotNil(t, stored.UnresolvedReason)
				assert.Equal(t, tt.wantReason, *stored.UnresolvedReason)
			}
			ev := stored.LatestEvidence(domain.TierBrowser)
			require.NotNil(t, ev)
			if tt.page != nil {
				require.NotNil(t, ev.Render)
				assert.NotEmpty(t, ev.Render.Classification)
			}

			// terminal candidates are never processed again
			again, err := conf.Confirm(ctx, stored)
			require.NoError(t, err)
			assert.False(t, again.Applied)
		})
	}
}

func TestConfirmer_Screenshot(t *testing.T) {
	f := newFixture(t)
	c := f.add(t, "Acme Plumbing", "303-555-0100", "https://acmeplumbing.com", domain.StatusBrowserQueued)

	page := businessPage("Acme Plumbing", "303-555-0100")
	page.Screenshot = []byte("png")
	shots := &memShots{}

	conf := NewConfirmer(f.repos.Candidates, &fakeRenderer{page: page}, nil, shots,
		ConfirmConfig{MinContentLength: 100, Screenshot: true, Policy: fastPolicy()})
	_, err := conf.Confirm(context.Background(), c)
	require.NoError(t, err)

	require.Len(t, shots.keys, 1)
	ev := f.reload(t, c.ID).LatestEvidence(domain.TierBrowser)
	require.NotNil(t, ev)
	assert.Equal(t, shots.keys[0], ev.Render.ScreenshotKey)
	assert.True(t, ev.Render.HasPhone)
}

func TestUnresolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.add(t, "Acme Plumbing", "", "", domain.StatusDeepVerifying)

	ok, err := Unresolve(ctx, f.repos.Candidates, c.ID, domain.TierDeep, "ProviderTimeout")
	require.NoError(t, err)
	assert.True(t, ok)

	stored := f.reload(t, c.ID)
	assert.Equal(t, domain.StatusUnresolved, stored.Status)
	assert.Equal(t, "ProviderTimeout", *stored.UnresolvedReason)

	ok, err = Unresolve(ctx, f.repos.Candidates, c.ID, domain.TierDeep, "again")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Unresolve(ctx, f.repos.Candidates, uuid.New(), domain.TierDeep, "x")
	assert.True(t, errors.Is(err, domain.ErrCandidateNotFound))
}
