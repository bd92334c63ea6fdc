package scraper

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/normalize"
	"github.com/sadewadee/leadscope/internal/provider/places"
)

// ToCandidate converts a provider place into an unverified candidate owned
// by the given session. Places without an id or a name are rejected with
// ErrMalformedCandidate.
func ToCandidate(p places.Place, strategy *domain.CoverageStrategy, zone *domain.Zone, sessionID uuid.UUID) (*domain.Candidate, error) {
	id := strings.TrimSpace(p.ID)
	name := strings.TrimSpace(p.DisplayName.Text)
	if id == "" || name == "" {
		return nil, eris.Wrapf(domain.ErrMalformedCandidate, "place %q has no id or name", id)
	}

	now := time.Now().UTC()
	c := &domain.Candidate{
		ID:          uuid.New(),
		StrategyID:  strategy.ID,
		ZoneID:      zone.ID,
		SessionID:   sessionID,
		Region:      strategy.Region,
		Category:    strategy.Category,
		ExternalID:  id,
		Name:        name,
		Phone:       firstNonEmpty(p.NationalPhoneNumber, p.InternationalPhoneNumber),
		Address:     firstNonEmpty(p.FormattedAddress, p.ShortFormattedAddress),
		Locality:    firstNonEmpty(p.Locality(), zone.Name),
		SourceType:  firstNonEmpty(p.PrimaryTypeDisplayName.Text, p.PrimaryType),
		Rating:      p.Rating,
		ReviewCount: p.UserRatingCount,
		Status:      domain.StatusUnverified,
		Evidence:    []domain.TierResult{},
		RawPayload:  p.Raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if p.Location != nil {
		c.Lat = p.Location.Latitude
		c.Lon = p.Location.Longitude
	}

	if site, ok := normalize.URL(p.WebsiteURI); ok {
		c.WebsiteURL = &site
		c.WebsiteSource = domain.WebsiteSourceProvider
	}

	return c, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
