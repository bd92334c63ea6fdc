// Package coverage owns coverage strategies: building the ordered zone list
// for a (region, category) campaign, dispatching zones one at a time and
// folding finished zones back into the strategy counters.
package coverage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/regions"
)

// claimAttempts bounds retries when a concurrent claimer wins the same zone
const claimAttempts = 3

// ZoneSource resolves a region name into ordered zone specs
type ZoneSource interface {
	Zones(region string, radiusM int) ([]domain.ZoneSpec, error)
}

var _ ZoneSource = (*regions.Catalog)(nil)

// Options tune CreateOrGet
type Options struct {
	Regenerate bool
	RadiusM    int
}

// Service implements the coverage strategy operations
type Service struct {
	strategies domain.StrategyRepository
	zones      ZoneSource
	radiusM    int
	log        *zap.Logger
}

// NewService creates a coverage Service. radiusM is the default grid spacing
// for regions without named areas.
func NewService(strategies domain.StrategyRepository, zones ZoneSource, radiusM int) *Service {
	return &Service{
		strategies: strategies,
		zones:      zones,
		radiusM:    radiusM,
		log:        zap.L().With(zap.String("component", "coverage")),
	}
}

// CreateOrGet returns the current strategy for the pair, building one when
// none exists or when opts.Regenerate is set. The bool reports whether a new
// strategy was created.
func (s *Service) CreateOrGet(ctx context.Context, region, category string, opts Options) (*domain.CoverageStrategy, bool, error) {
	regionKey, categoryKey := domain.NormalizeKey(region), domain.NormalizeKey(category)
	if regionKey == "" || categoryKey == "" {
		return nil, false, eris.New("coverage: region and category are required")
	}

	current, err := s.strategies.GetCurrent(ctx, regionKey, categoryKey)
	if err != nil {
		return nil, false, eris.Wrap(err, "coverage: get current strategy")
	}
	if current != nil && !opts.Regenerate {
		return current, false, nil
	}

	radius := opts.RadiusM
	if radius <= 0 {
		radius = s.radiusM
	}

	specs, err := s.zones.Zones(region, radius)
	if err != nil {
		return nil, false, err
	}

	strategy := domain.NewStrategy(regionKey, categoryKey, len(specs))
	zones := buildZones(strategy.ID, specs)

	var supersede *uuid.UUID
	if current != nil {
		supersede = &current.ID
	}

	if err := s.strategies.CreateWithZones(ctx, strategy, zones, supersede); err != nil {
		// a concurrent caller may have created the same pair first
		if !opts.Regenerate {
			if winner, getErr := s.strategies.GetCurrent(ctx, regionKey, categoryKey); getErr == nil && winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, eris.Wrap(err, "coverage: create strategy")
	}

	s.log.Info("strategy created",
		zap.String("strategy_id", strategy.ID.String()),
		zap.String("region", regionKey),
		zap.String("category", categoryKey),
		zap.Int("zones", len(zones)),
		zap.Bool("regenerated", supersede != nil),
	)

	return strategy, true, nil
}

func buildZones(strategyID uuid.UUID, specs []domain.ZoneSpec) []*domain.Zone {
	now := time.Now().UTC()
	zones := make([]*domain.Zone, 0, len(specs))
	for i, spec := range specs {
		zones = append(zones, &domain.Zone{
			ID:               uuid.New(),
			StrategyID:       strategyID,
			Code:             spec.Code,
			Name:             spec.Name,
			CenterLat:        spec.Lat,
			CenterLon:        spec.Lon,
			RadiusMeters:     spec.RadiusMeters,
			PriorityTier:     spec.PriorityTier,
			EstimatedDensity: spec.EstimatedDensity,
			Position:         i,
			CreatedAt:        now,
		})
	}
	return zones
}

// Get returns a strategy by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.CoverageStrategy, error) {
	strategy, err := s.strategies.GetByID(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: get strategy")
	}
	if strategy == nil {
		return nil, domain.ErrStrategyNotFound
	}
	return strategy, nil
}

// List returns strategies page by page
func (s *Service) List(ctx context.Context, params domain.StrategyListParams) ([]*domain.CoverageStrategy, int, error) {
	return s.strategies.List(ctx, params)
}

// Zones returns a strategy's zones in dispatch order
func (s *Service) Zones(ctx context.Context, id uuid.UUID) ([]*domain.Zone, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.strategies.ListZones(ctx, id)
}

// GetNextZone returns the highest-priority zone that has neither completed
// nor an in-flight session. It does not reserve the zone.
func (s *Service) GetNextZone(ctx context.Context, strategyID uuid.UUID) (*domain.Zone, error) {
	strategy, err := s.Get(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if !strategy.Status.CanDispatch() {
		return nil, eris.Wrapf(domain.ErrNoZonesRemaining, "coverage: strategy is %s", strategy.Status)
	}

	zone, err := s.strategies.NextZone(ctx, strategyID)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: next zone")
	}
	if zone == nil {
		return nil, domain.ErrNoZonesRemaining
	}
	return zone, nil
}

// DispatchNextZone claims the next zone and creates its queued session in
// one step. Two concurrent callers never receive the same zone.
func (s *Service) DispatchNextZone(ctx context.Context, strategyID uuid.UUID, priority int) (*domain.ScrapeSession, *domain.Zone, error) {
	for attempt := 1; ; attempt++ {
		session := domain.NewSession(strategyID, uuid.Nil, priority)

		zone, err := s.strategies.ClaimNextZone(ctx, strategyID, session)
		if errors.Is(err, domain.ErrStaleWrite) && attempt < claimAttempts {
			continue
		}
		if err != nil {
			if errors.Is(err, domain.ErrStrategyNotFound) {
				return nil, nil, err
			}
			return nil, nil, eris.Wrap(err, "coverage: claim next zone")
		}
		if zone == nil {
			return nil, nil, domain.ErrNoZonesRemaining
		}

		s.log.Debug("zone claimed",
			zap.String("strategy_id", strategyID.String()),
			zap.String("zone", zone.Code),
			zap.String("session_id", session.ID.String()),
			zap.Int("priority", session.Priority),
		)
		return session, zone, nil
	}
}

// MarkZoneComplete marks a zone complete and folds its counts into the
// strategy. Repeat calls return false and change nothing.
func (s *Service) MarkZoneComplete(ctx context.Context, zoneID uuid.UUID, counts domain.ZoneCounts) (bool, error) {
	applied, err := s.strategies.CompleteZone(ctx, zoneID, counts)
	if err != nil {
		return false, eris.Wrap(err, "coverage: complete zone")
	}
	if applied {
		s.log.Info("zone completed",
			zap.String("zone_id", zoneID.String()),
			zap.Int("scraped", counts.Scraped),
			zap.Int("discovered", counts.Discovered),
		)
	}
	return applied, nil
}
