package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tier identifies one stage of the verification pipeline
type Tier int

const (
	TierProbe   Tier = 1
	TierDeep    Tier = 2
	TierBrowser Tier = 3
)

// Candidate is a business record discovered by acquisition
type Candidate struct {
	ID         uuid.UUID `json:"id"`
	StrategyID uuid.UUID `json:"strategy_id"`
	ZoneID     uuid.UUID `json:"zone_id"`
	SessionID  uuid.UUID `json:"session_id"`
	Region     string    `json:"region"`
	Category   string    `json:"category"`

	ExternalID  string  `json:"external_id"`
	Name        string  `json:"name"`
	Phone       string  `json:"phone,omitempty"`
	Address     string  `json:"address,omitempty"`
	Locality    string  `json:"locality,omitempty"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	SourceType  string  `json:"source_category,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`

	WebsiteURL    *string       `json:"website_url,omitempty"`
	WebsiteSource WebsiteSource `json:"website_source,omitempty"`

	Status        VerificationStatus `json:"verification_status"`
	Confidence    *float64           `json:"confidence,omitempty"`
	LowConfidence bool               `json:"low_confidence"`
	Evidence      []TierResult       `json:"evidence"`
	Attempts      int                `json:"attempts"`

	UnresolvedReason *string `json:"unresolved_reason,omitempty"`

	RawPayload json.RawMessage `json:"raw_payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasWebsite returns true if the candidate carries a website URL
func (c *Candidate) HasWebsite() bool {
	return c.WebsiteURL != nil && *c.WebsiteURL != ""
}

// Website returns the website URL or an empty string
func (c *Candidate) Website() string {
	if c.WebsiteURL == nil {
		return ""
	}
	return *c.WebsiteURL
}

// LatestEvidence returns the most recent evidence entry recorded for a tier
func (c *Candidate) LatestEvidence(tier Tier) *TierResult {
	for i := len(c.Evidence) - 1; i >= 0; i-- {
		if c.Evidence[i].Tier == tier {
			return &c.Evidence[i]
		}
	}
	return nil
}

// RecordedSearch returns search results already persisted for Tier 2, if any
func (c *Candidate) RecordedSearch() ([]SearchResult, bool) {
	for i := len(c.Evidence) - 1; i >= 0; i-- {
		e := c.Evidence[i]
		if e.Tier == TierDeep && e.Outcome == OutcomeSearchRecorded {
			return e.SearchResults, true
		}
	}
	return nil, false
}

// Outcome values recorded in TierResult
const (
	OutcomeProbeOK        = "probe_ok"
	OutcomeProbeFail      = "probe_fail"
	OutcomeNoWebsite      = "no_website"
	OutcomeSearchRecorded = "search_recorded"
	OutcomeFound          = "found"
	OutcomeMissing        = "missing"
	OutcomeRenderValid    = "valid"
	OutcomeRenderInvalid  = "invalid"
	OutcomeError          = "error"
)

// TierResult is one append-only evidence entry
type TierResult struct {
	Tier          Tier           `json:"tier"`
	Outcome       string         `json:"outcome"`
	At            time.Time      `json:"at"`
	URL           string         `json:"url,omitempty"`
	StatusCode    int            `json:"status_code,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
	Signals       []Signal       `json:"signals,omitempty"`
	Rationale     string         `json:"rationale,omitempty"`
	SearchQuery   string         `json:"search_query,omitempty"`
	SearchResults []SearchResult `json:"search_results,omitempty"`
	Render        *RenderResult  `json:"render,omitempty"`
	Error         string         `json:"error,omitempty"`
	Oracle        bool           `json:"oracle,omitempty"`
}

// SearchResult is one ranked web-search hit
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SignalKind names a scoring signal
type SignalKind string

const (
	SignalPhone        SignalKind = "phone_match"
	SignalAddress      SignalKind = "address_match"
	SignalNameLocality SignalKind = "name_locality_match"
	SignalDirectory    SignalKind = "directory_domain"
)

// Signal is one scoring signal observed on a search result
type Signal struct {
	Kind   SignalKind `json:"kind"`
	URL    string     `json:"url"`
	Weight float64    `json:"weight"`
	Detail string     `json:"detail,omitempty"`
}

// RenderResult holds Tier 3 extraction output
type RenderResult struct {
	Title          string   `json:"title"`
	FinalURL       string   `json:"final_url,omitempty"`
	StatusCode     int      `json:"status_code"`
	ContentLength  int      `json:"content_length"`
	HasPhone       bool     `json:"has_phone"`
	HasEmail       bool     `json:"has_email"`
	Emails         []string `json:"emails,omitempty"`
	Phones         []string `json:"phones,omitempty"`
	ScreenshotKey  string   `json:"screenshot_key,omitempty"`
	Classification string   `json:"classification"`
	Reason         string   `json:"reason,omitempty"`
}

// CandidateListParams are parameters for listing candidates
type CandidateListParams struct {
	StrategyID *uuid.UUID
	SessionID  *uuid.UUID
	Status     *VerificationStatus
	Limit      int
	Offset     int
}

// StatusUpdate describes a guarded status write: it is applied only when the
// stored status still equals From.
type StatusUpdate struct {
	From          VerificationStatus
	To            VerificationStatus
	Append        []TierResult
	WebsiteURL    *string
	WebsiteSource WebsiteSource
	Confidence    *float64
	LowConfidence bool
	Reason        *string
}
