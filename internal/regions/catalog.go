// Package regions loads the region catalog and turns a region into the
// ordered zone specs a coverage strategy is built from.
package regions

import (
	_ "embed"
	"os"
	"sort"
	"strconv"
	"strings"

	olc "github.com/google/open-location-code/go"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sadewadee/leadscope/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// codeLength is the Open Location Code precision used for zone codes (~14m)
const codeLength = 10

// DefaultRadiusM is the grid spacing used when a region has no named areas
const DefaultRadiusM = 3000

// Area is a named sub-area of a region
type Area struct {
	Name       string  `yaml:"name" json:"name"`
	Lat        float64 `yaml:"lat" json:"lat"`
	Lon        float64 `yaml:"lon" json:"lon"`
	RadiusM    int     `yaml:"radius_m" json:"radius_m"`
	Population int     `yaml:"population" json:"population,omitempty"`
	Density    float64 `yaml:"density" json:"density,omitempty"`
	Tier       int     `yaml:"tier" json:"tier,omitempty"`
}

// Region is a catalog entry. Either Polygon or BBox bounds it.
type Region struct {
	Key     string              `yaml:"key" json:"key"`
	Name    string              `yaml:"name" json:"name"`
	Aliases []string            `yaml:"aliases" json:"aliases,omitempty"`
	BBox    *domain.BoundingBox `yaml:"bbox" json:"bbox,omitempty"`
	Polygon [][2]float64        `yaml:"polygon" json:"polygon,omitempty"` // [lon, lat]
	Areas   []Area              `yaml:"areas" json:"areas,omitempty"`

	ring *geom.Polygon
}

// Catalog is an immutable lookup of regions by key or alias
type Catalog struct {
	regions []*Region
	index   map[string]*Region
}

// Load reads a catalog file. An empty path loads the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "regions: read catalog %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var file struct {
		Regions []*Region `yaml:"regions"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "regions: parse catalog")
	}

	c := &Catalog{index: map[string]*Region{}}
	for _, r := range file.Regions {
		r.Key = domain.NormalizeKey(r.Key)
		if r.Key == "" {
			return nil, eris.New("regions: region without key")
		}

		if len(r.Polygon) > 0 {
			ring, err := buildPolygon(r.Polygon)
			if err != nil {
				return nil, eris.Wrapf(err, "regions: %s", r.Key)
			}
			r.ring = ring
			if r.BBox == nil {
				b := ring.Bounds()
				r.BBox = &domain.BoundingBox{MinLat: b.Min(1), MaxLat: b.Max(1), MinLon: b.Min(0), MaxLon: b.Max(0)}
			}
		}

		if !r.BBox.IsValid() && len(r.Areas) == 0 {
			return nil, eris.Errorf("regions: %s has neither valid bounds nor areas", r.Key)
		}

		c.regions = append(c.regions, r)
		c.index[r.Key] = r
		for _, a := range r.Aliases {
			c.index[domain.NormalizeKey(a)] = r
		}
	}

	return c, nil
}

func buildPolygon(points [][2]float64) (*geom.Polygon, error) {
	if len(points) < 3 {
		return nil, eris.New("polygon needs at least three points")
	}

	flat := make([]float64, 0, len(points)*2+2)
	for _, p := range points {
		flat = append(flat, p[0], p[1])
	}
	// close the ring
	if points[0] != points[len(points)-1] {
		flat = append(flat, points[0][0], points[0][1])
	}

	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}), nil
}

// Lookup finds a region by key or alias
func (c *Catalog) Lookup(name string) (*Region, bool) {
	r, ok := c.index[domain.NormalizeKey(name)]
	return r, ok
}

// List returns all regions in catalog order
func (c *Catalog) List() []*Region {
	return c.regions
}

// Contains reports whether a point lies inside the region's polygon, or its
// bbox when no polygon is defined.
func (r *Region) Contains(lat, lon float64) bool {
	if r.ring != nil {
		ring := r.ring.LinearRing(0)
		return xy.IsPointInRing(geom.XY, geom.Coord{lon, lat}, ring.FlatCoords())
	}
	if r.BBox == nil {
		return false
	}
	return lat >= r.BBox.MinLat && lat <= r.BBox.MaxLat && lon >= r.BBox.MinLon && lon <= r.BBox.MaxLon
}

// Zones resolves a region name into zone specs ordered by dispatch priority.
// Unknown names are accepted as "minLat,minLon,maxLat,maxLon" bbox strings.
func (c *Catalog) Zones(name string, radiusM int) ([]domain.ZoneSpec, error) {
	if radiusM <= 0 {
		radiusM = DefaultRadiusM
	}

	if r, ok := c.Lookup(name); ok {
		specs := r.zones(radiusM)
		if len(specs) == 0 {
			return nil, eris.Wrapf(domain.ErrRegionUnknown, "regions: %s produced no zones", r.Key)
		}
		return specs, nil
	}

	box, err := ParseBBox(name)
	if err != nil {
		return nil, eris.Wrapf(domain.ErrRegionUnknown, "regions: %q", name)
	}

	zap.L().Debug("regions: falling back to bbox grid", zap.String("region", name), zap.Int("radius_m", radiusM))
	r := &Region{Key: name, BBox: box}
	return r.zones(radiusM), nil
}

func (r *Region) zones(radiusM int) []domain.ZoneSpec {
	var specs []domain.ZoneSpec

	if len(r.Areas) > 0 {
		for _, a := range r.Areas {
			radius := a.RadiusM
			if radius <= 0 {
				radius = radiusM
			}
			tier := a.Tier
			if tier == 0 {
				tier = tierForPopulation(a.Population)
			}
			specs = append(specs, domain.ZoneSpec{
				Code:             olc.Encode(a.Lat, a.Lon, codeLength),
				Name:             a.Name,
				Lat:              a.Lat,
				Lon:              a.Lon,
				RadiusMeters:     radius,
				PriorityTier:     tier,
				EstimatedDensity: a.Density,
			})
		}
	} else if r.BBox.IsValid() {
		for i, p := range r.BBox.GenerateGridByRadius(radiusM) {
			if !r.Contains(p.Lat, p.Lon) {
				continue
			}
			specs = append(specs, domain.ZoneSpec{
				Code:         olc.Encode(p.Lat, p.Lon, codeLength),
				Name:         r.Key + " #" + strconv.Itoa(i+1),
				Lat:          p.Lat,
				Lon:          p.Lon,
				RadiusMeters: radiusM,
				PriorityTier: 1,
			})
		}
	}

	Order(specs)
	return specs
}

// Order sorts specs by tier then density, both descending. The sort is
// stable so catalog order breaks ties.
func Order(specs []domain.ZoneSpec) {
	sort.SliceStable(specs, func(i, j int) bool {
		if specs[i].PriorityTier != specs[j].PriorityTier {
			return specs[i].PriorityTier > specs[j].PriorityTier
		}
		return specs[i].EstimatedDensity > specs[j].EstimatedDensity
	})
}

func tierForPopulation(p int) int {
	switch {
	case p >= 100000:
		return 4
	case p >= 20000:
		return 3
	case p >= 5000:
		return 2
	default:
		return 1
	}
}

// ParseBBox parses "minLat,minLon,maxLat,maxLon"
func ParseBBox(s string) (*domain.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, eris.Errorf("regions: bbox %q needs four values", s)
	}

	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "regions: bbox value %q", p)
		}
		vals[i] = v
	}

	box := &domain.BoundingBox{MinLat: vals[0], MinLon: vals[1], MaxLat: vals[2], MaxLon: vals[3]}
	if !box.IsValid() {
		return nil, eris.Errorf("regions: bbox %q is out of range", s)
	}
	return box, nil
}
