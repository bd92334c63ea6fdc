package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name     string
		current  VerificationStatus
		evidence Evidence
		expected VerificationStatus
		wantErr  error
	}{
		{
			name:     "probe passes",
			current:  StatusUnverified,
			evidence: Evidence{Kind: EvidenceProbePassed},
			expected: StatusHTTPCheckedOK,
		},
		{
			name:     "probe fails",
			current:  StatusUnverified,
			evidence: Evidence{Kind: EvidenceProbeFailed},
			expected: StatusHTTPCheckedFail,
		},
		{
			name:     "probe ok goes to browser",
			current:  StatusHTTPCheckedOK,
			evidence: Evidence{Kind: EvidenceBrowserEnqueued},
			expected: StatusBrowserQueued,
		},
		{
			name:     "probe fail starts deep verification",
			current:  StatusHTTPCheckedFail,
			evidence: Evidence{Kind: EvidenceDeepStarted},
			expected: StatusDeepVerifying,
		},
		{
			name:     "search found",
			current:  StatusDeepVerifying,
			evidence: Evidence{Kind: EvidenceSearchFound},
			expected: StatusDeepVerifiedFound,
		},
		{
			name:     "search missing is terminal",
			current:  StatusDeepVerifying,
			evidence: Evidence{Kind: EvidenceSearchMissing},
			expected: StatusConfirmedMissing,
		},
		{
			name:     "found goes to browser",
			current:  StatusDeepVerifiedFound,
			evidence: Evidence{Kind: EvidenceBrowserEnqueued},
			expected: StatusBrowserQueued,
		},
		{
			name:     "render valid confirms",
			current:  StatusBrowserQueued,
			evidence: Evidence{Kind: EvidenceRenderValid},
			expected: StatusConfirmedWebsite,
		},
		{
			name:     "render invalid needs review",
			current:  StatusBrowserQueued,
			evidence: Evidence{Kind: EvidenceRenderInvalid, Source: WebsiteSourceSearch},
			expected: StatusNeedsManualReview,
		},
		{
			name:     "render exhausted after search needs review",
			current:  StatusBrowserQueued,
			evidence: Evidence{Kind: EvidenceRenderExhausted, Source: WebsiteSourceSearch},
			expected: StatusNeedsManualReview,
		},
		{
			name:     "render exhausted after provider url is unresolved",
			current:  StatusBrowserQueued,
			evidence: Evidence{Kind: EvidenceRenderExhausted, Source: WebsiteSourceProvider},
			expected: StatusUnresolved,
		},
		{
			name:     "retries exhausted from deep verifying",
			current:  StatusDeepVerifying,
			evidence: Evidence{Kind: EvidenceRetriesExhausted},
			expected: StatusUnresolved,
		},
		{
			name:     "skipping a tier is rejected",
			current:  StatusUnverified,
			evidence: Evidence{Kind: EvidenceSearchFound},
			expected: StatusUnverified,
			wantErr:  ErrInvalidTransition,
		},
		{
			name:     "terminal website is frozen",
			current:  StatusConfirmedWebsite,
			evidence: Evidence{Kind: EvidenceRenderInvalid},
			expected: StatusConfirmedWebsite,
			wantErr:  ErrTerminalStatus,
		},
		{
			name:     "terminal missing is frozen",
			current:  StatusConfirmedMissing,
			evidence: Evidence{Kind: EvidenceDeepStarted},
			expected: StatusConfirmedMissing,
			wantErr:  ErrTerminalStatus,
		},
		{
			name:     "unknown status",
			current:  VerificationStatus("bogus"),
			evidence: Evidence{Kind: EvidenceProbePassed},
			expected: VerificationStatus("bogus"),
			wantErr:  ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Transition(tt.current, tt.evidence)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expected, next)
		})
	}
}

func TestTransition_NeverRegresses(t *testing.T) {
	kinds := []EvidenceKind{
		EvidenceProbePassed, EvidenceProbeFailed, EvidenceDeepStarted,
		EvidenceSearchFound, EvidenceSearchMissing, EvidenceBrowserEnqueued,
		EvidenceRenderValid, EvidenceRenderInvalid, EvidenceRenderExhausted,
		EvidenceRetriesExhausted,
	}

	for status := range statusRank {
		for _, kind := range kinds {
			for _, src := range []WebsiteSource{WebsiteSourceProvider, WebsiteSourceSearch} {
				next, err := Transition(status, Evidence{Kind: kind, Source: src})
				if err != nil {
					assert.Equal(t, status, next)
					continue
				}
				assert.Greater(t, next.Rank(), status.Rank(), "%s --%s--> %s", status, kind, next)
			}
		}
	}
}

func TestVerificationStatus_IsTerminal(t *testing.T) {
	for _, s := range TerminalStatuses {
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, StatusBrowserQueued.IsTerminal())
	assert.False(t, StatusUnverified.IsTerminal())
}

func TestVerificationStatus_OwnerTier(t *testing.T) {
	tests := []struct {
		status   VerificationStatus
		expected Tier
	}{
		{StatusUnverified, TierProbe},
		{StatusHTTPCheckedFail, TierDeep},
		{StatusDeepVerifying, TierDeep},
		{StatusBrowserQueued, TierBrowser},
		{StatusHTTPCheckedOK, 0},
		{StatusDeepVerifiedFound, 0},
		{StatusConfirmedWebsite, 0},
		{StatusUnresolved, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.OwnerTier())
		})
	}
}
