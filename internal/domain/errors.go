package domain

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Failure taxonomy. The sentinel text doubles as the stored reason.
var (
	ErrProviderQuotaExceeded    = eris.New("ProviderQuotaExceeded")
	ErrProviderTimeout          = eris.New("ProviderTimeout")
	ErrMalformedCandidate       = eris.New("MalformedCandidate")
	ErrVerificationInconclusive = eris.New("VerificationInconclusive")
	ErrOrchestratorUnavailable  = eris.New("OrchestratorUnavailable")
)

// Lookup errors
var (
	ErrStrategyNotFound  = eris.New("strategy not found")
	ErrZoneNotFound      = eris.New("zone not found")
	ErrSessionNotFound   = eris.New("session not found")
	ErrCandidateNotFound = eris.New("candidate not found")
	ErrWorkerNotFound    = eris.New("worker not found")

	ErrNoZonesRemaining   = eris.New("no zones remaining")
	ErrStrategySuperseded = eris.New("strategy superseded")
	ErrRegionUnknown      = eris.New("region unknown")
	ErrStaleWrite         = eris.New("stale write")
)

var taxonomy = []error{
	ErrProviderQuotaExceeded,
	ErrProviderTimeout,
	ErrMalformedCandidate,
	ErrVerificationInconclusive,
	ErrOrchestratorUnavailable,
}

// ReasonOf maps an error to its taxonomy name, falling back to the error text.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	for _, t := range taxonomy {
		if errors.Is(err, t) {
			return t.Error()
		}
	}
	return err.Error()
}
