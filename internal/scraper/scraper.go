// Package scraper acquires the businesses of one zone from the places
// provider and turns them into deduplicated candidates.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/provider/places"
	"github.com/sadewadee/leadscope/internal/resilience"
)

// Config tunes acquisition
type Config struct {
	MaxPages int
	Timeout  time.Duration
	Policy   resilience.Policy
}

// Result summarizes one zone acquisition
type Result struct {
	// Total is the number of places the provider returned
	Total int
	// Inserted are the candidates new to this region and category
	Inserted   []*domain.Candidate
	Duplicates int
	Malformed  int
	Warnings   []string
}

// Scraper implements zone acquisition
type Scraper struct {
	places     places.Client
	candidates domain.CandidateRepository
	dedup      Deduper
	cfg        Config
	log        *zap.Logger
}

// New creates a Scraper. dedup may be nil, in which case the database
// unique index alone deduplicates.
func New(client places.Client, candidates domain.CandidateRepository, dedup Deduper, cfg Config) *Scraper {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Scraper{
		places:     client,
		candidates: candidates,
		dedup:      dedup,
		cfg:        cfg,
		log:        zap.L().With(zap.String("component", "scraper")),
	}
}

// Scrape fetches the zone's places page by page and inserts new candidates.
// A failure on the first page fails the acquisition; later pages only add a
// warning so partial results are kept.
func (s *Scraper) Scrape(ctx context.Context, strategy *domain.CoverageStrategy, zone *domain.Zone, sessionID uuid.UUID) (*Result, error) {
	res := &Result{}
	quotaHit := false

	policy := s.cfg.Policy
	policy.OnRetry = func(attempt int, err error) {
		if errors.Is(err, domain.ErrProviderQuotaExceeded) {
			quotaHit = true
		}
		s.log.Warn("retrying places search",
			zap.String("zone", zone.Code),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	token := ""
	for page := 0; page < s.cfg.MaxPages; page++ {
		q := places.Query{
			Text:      strategy.Category,
			Lat:       zone.CenterLat,
			Lon:       zone.CenterLon,
			RadiusM:   zone.RadiusMeters,
			PageToken: token,
		}

		result, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*places.Page, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
			return s.places.SearchNearby(callCtx, q)
		})
		if err != nil {
			if page == 0 {
				return nil, eris.Wrapf(err, "scraper: zone %s", zone.Code)
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d failed: %s", page+1, domain.ReasonOf(err)))
			break
		}

		res.Total += len(result.Places)
		for _, p := range result.Places {
			if err := s.ingest(ctx, p, strategy, zone, sessionID, res); err != nil {
				return nil, err
			}
		}

		token = result.NextPageToken
		if token == "" {
			break
		}
	}

	if quotaHit {
		res.Warnings = append(res.Warnings, domain.ErrProviderQuotaExceeded.Error()+": places search was throttled")
	}

	s.log.Info("zone acquired",
		zap.String("zone", zone.Code),
		zap.Int("total", res.Total),
		zap.Int("inserted", len(res.Inserted)),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("malformed", res.Malformed),
	)

	return res, nil
}

func (s *Scraper) ingest(ctx context.Context, p places.Place, strategy *domain.CoverageStrategy, zone *domain.Zone, sessionID uuid.UUID, res *Result) error {
	c, err := ToCandidate(p, strategy, zone, sessionID)
	if err != nil {
		res.Malformed++
		s.log.Warn("skipping malformed place", zap.String("zone", zone.Code), zap.Error(err))
		return nil
	}

	key := DedupKey(c.Region, c.Category, c.ExternalID)
	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, key)
		if err != nil {
			// fall through to the unique index
			s.log.Debug("dedup unavailable", zap.Error(err))
		} else if seen {
			res.Duplicates++
			return nil
		}
	}

	inserted, err := s.candidates.Insert(ctx, c)
	if err != nil {
		return eris.Wrapf(err, "scraper: insert candidate %s", c.ExternalID)
	}
	if s.dedup != nil {
		if err := s.dedup.Mark(ctx, key); err != nil {
			s.log.Debug("dedup mark", zap.Error(err))
		}
	}
	if !inserted {
		res.Duplicates++
		return nil
	}

	res.Inserted = append(res.Inserted, c)
	return nil
}
