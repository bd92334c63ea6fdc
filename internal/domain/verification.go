package domain

import (
	"github.com/rotisserie/eris"
)

// VerificationStatus is the tagged state of a candidate's website verification
type VerificationStatus string

const (
	StatusUnverified        VerificationStatus = "unverified"
	StatusHTTPCheckedOK     VerificationStatus = "http_checked_ok"
	StatusHTTPCheckedFail   VerificationStatus = "http_checked_fail"
	StatusDeepVerifying     VerificationStatus = "deep_verifying"
	StatusDeepVerifiedFound VerificationStatus = "deep_verified_found"
	StatusBrowserQueued     VerificationStatus = "browser_queued"

	// terminal
	StatusConfirmedWebsite  VerificationStatus = "confirmed_website"
	StatusConfirmedMissing  VerificationStatus = "confirmed_missing"
	StatusUnresolved        VerificationStatus = "unresolved"
	StatusNeedsManualReview VerificationStatus = "needs_manual_review"
)

const terminalRank = 9

var statusRank = map[VerificationStatus]int{
	StatusUnverified:        0,
	StatusHTTPCheckedOK:     1,
	StatusHTTPCheckedFail:   1,
	StatusDeepVerifying:     2,
	StatusDeepVerifiedFound: 3,
	StatusBrowserQueued:     4,
	StatusConfirmedWebsite:  terminalRank,
	StatusConfirmedMissing:  terminalRank,
	StatusUnresolved:        terminalRank,
	StatusNeedsManualReview: terminalRank,
}

// Rank orders statuses along the tier progression. Unknown statuses rank -1.
func (s VerificationStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// IsTerminal returns true once no further tier processing may occur
func (s VerificationStatus) IsTerminal() bool {
	return s.Rank() == terminalRank
}

// OwnerTier returns the tier whose job acts on s, zero for statuses that
// only wait for the browser hand-off or are terminal.
func (s VerificationStatus) OwnerTier() Tier {
	switch s {
	case StatusUnverified:
		return TierProbe
	case StatusHTTPCheckedFail, StatusDeepVerifying:
		return TierDeep
	case StatusBrowserQueued:
		return TierBrowser
	default:
		return 0
	}
}

// IsValid reports whether s is a known status
func (s VerificationStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// TerminalStatuses lists every terminal verification status
var TerminalStatuses = []VerificationStatus{
	StatusConfirmedWebsite,
	StatusConfirmedMissing,
	StatusUnresolved,
	StatusNeedsManualReview,
}

// EvidenceKind identifies the outcome that drives a transition
type EvidenceKind string

const (
	EvidenceProbePassed      EvidenceKind = "probe_passed"
	EvidenceProbeFailed      EvidenceKind = "probe_failed"
	EvidenceDeepStarted      EvidenceKind = "deep_started"
	EvidenceSearchFound      EvidenceKind = "search_found"
	EvidenceSearchMissing    EvidenceKind = "search_missing"
	EvidenceBrowserEnqueued  EvidenceKind = "browser_enqueued"
	EvidenceRenderValid      EvidenceKind = "render_valid"
	EvidenceRenderInvalid    EvidenceKind = "render_invalid"
	EvidenceRenderExhausted  EvidenceKind = "render_exhausted"
	EvidenceRetriesExhausted EvidenceKind = "retries_exhausted"
)

// WebsiteSource records where a candidate's website URL came from
type WebsiteSource string

const (
	WebsiteSourceProvider WebsiteSource = "provider"
	WebsiteSourceSearch   WebsiteSource = "search"
)

// Evidence is the input to Transition
type Evidence struct {
	Kind   EvidenceKind
	Source WebsiteSource
}

var (
	// ErrInvalidTransition is returned for an edge the state machine does not define
	ErrInvalidTransition = eris.New("invalid verification transition")
	// ErrTerminalStatus is returned when evidence is applied to a terminal status
	ErrTerminalStatus = eris.New("verification status is terminal")
)

// Transition computes the next verification status from the current one and
// a piece of evidence. It has no side effects.
func Transition(current VerificationStatus, ev Evidence) (VerificationStatus, error) {
	if current.IsTerminal() {
		return current, ErrTerminalStatus
	}
	if !current.IsValid() {
		return current, eris.Wrapf(ErrInvalidTransition, "unknown status %q", current)
	}

	next, ok := nextStatus(current, ev)
	if !ok {
		return current, eris.Wrapf(ErrInvalidTransition, "%s on %s", ev.Kind, current)
	}

	if next.Rank() < current.Rank() {
		return current, eris.Wrapf(ErrInvalidTransition, "regression %s -> %s", current, next)
	}

	return next, nil
}

func nextStatus(current VerificationStatus, ev Evidence) (VerificationStatus, bool) {
	if ev.Kind == EvidenceRetriesExhausted {
		return StatusUnresolved, true
	}

	switch current {
	case StatusUnverified:
		switch ev.Kind {
		case EvidenceProbePassed:
			return StatusHTTPCheckedOK, true
		case EvidenceProbeFailed:
			return StatusHTTPCheckedFail, true
		}
	case StatusHTTPCheckedOK:
		if ev.Kind == EvidenceBrowserEnqueued {
			return StatusBrowserQueued, true
		}
	case StatusHTTPCheckedFail:
		if ev.Kind == EvidenceDeepStarted {
			return StatusDeepVerifying, true
		}
	case StatusDeepVerifying:
		switch ev.Kind {
		case EvidenceSearchFound:
			return StatusDeepVerifiedFound, true
		case EvidenceSearchMissing:
			return StatusConfirmedMissing, true
		}
	case StatusDeepVerifiedFound:
		if ev.Kind == EvidenceBrowserEnqueued {
			return StatusBrowserQueued, true
		}
	case StatusBrowserQueued:
		switch ev.Kind {
		case EvidenceRenderValid:
			return StatusConfirmedWebsite, true
		case EvidenceRenderInvalid:
			// never silently reverse a website found by earlier tiers
			return StatusNeedsManualReview, true
		case EvidenceRenderExhausted:
			if ev.Source == WebsiteSourceSearch {
				return StatusNeedsManualReview, true
			}
			return StatusUnresolved, true
		}
	}

	return current, false
}
