package runner

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/coverage"
	"github.com/sadewadee/leadscope/internal/domain"
)

// StrategyCreator is the coverage operation seeding relies on
type StrategyCreator interface {
	CreateOrGet(ctx context.Context, region, category string, opts coverage.Options) (*domain.CoverageStrategy, bool, error)
}

// SeedConfig lists the region and category pairs to prepare
type SeedConfig struct {
	Regions    []string
	Categories []string
	Regenerate bool
	RadiusM    int
}

// SeedResult reports one region and category pair
type SeedResult struct {
	Region     string
	Category   string
	StrategyID uuid.UUID
	Zones      int
	Created    bool
	Err        error
}

// SeedStrategies runs create-or-get for every region and category pair. A
// failing pair is reported in its result and does not stop the others.
func SeedStrategies(ctx context.Context, svc StrategyCreator, cfg SeedConfig) ([]SeedResult, error) {
	regions, categories := SplitList(cfg.Regions), SplitList(cfg.Categories)
	if len(regions) == 0 || len(categories) == 0 {
		return nil, eris.New("seed: at least one region and one category are required")
	}

	log := zap.L().With(zap.String("component", "seed"))
	results := make([]SeedResult, 0, len(regions)*len(categories))

	for _, region := range regions {
		for _, category := range categories {
			if err := ctx.Err(); err != nil {
				return results, err
			}

			res := SeedResult{Region: region, Category: category}
			s, created, err := svc.CreateOrGet(ctx, region, category, coverage.Options{
				Regenerate: cfg.Regenerate,
				RadiusM:    cfg.RadiusM,
			})
			if err != nil {
				res.Err = err
				log.Warn("seed failed", zap.String("region", region), zap.String("category", category), zap.Error(err))
			} else {
				res.StrategyID, res.Zones, res.Created = s.ID, s.ZonesTotal, created
			}
			results = append(results, res)
		}
	}

	return results, nil
}

// SplitList trims entries, splits comma-separated ones and drops blanks
func SplitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
