package verify

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/normalize"
	"github.com/sadewadee/leadscope/internal/provider/evidence"
)

// Signal weights. Strong matches live in [0.8, 1.0], weak ones in [0.5, 0.7].
const (
	strongFloor      = 0.8
	strongCeiling    = 1.0
	weightPhone      = 0.9
	weightAddress    = 0.85
	weightBoth       = 1.0
	bonusName        = 0.05
	penaltyDirectory = 0.05

	weakNameOnly     = 0.5
	weakNameLocality = 0.6
	bonusNameInHost  = 0.1
	weakCeiling      = 0.7
)

// Scored is one search result after scoring
type Scored struct {
	Result     domain.SearchResult
	URL        string
	Confidence float64
	Signals    []domain.Signal
	Strong     bool
	Directory  bool
	Rationale  string
}

// Decision is the outcome of scoring a result set
type Decision struct {
	// Best is set when a result reached the acceptance threshold
	Best *Scored
	// Ranked holds every usable result, highest confidence first
	Ranked []Scored
	// Weak is true when some result carried only name/locality signals
	Weak      bool
	Rationale string
}

// TopWeak returns the best weak-only candidate, if any
func (d *Decision) TopWeak() *Scored {
	for i := range d.Ranked {
		if !d.Ranked[i].Strong && d.Ranked[i].Confidence > 0 {
			return &d.Ranked[i]
		}
	}
	return nil
}

// Scorer ranks web-search results against a business's known facts
type Scorer struct {
	minConfidence float64
	directories   map[string]bool
}

// NewScorer creates a Scorer accepting results at or above minConfidence.
// directories are registrable domains that never count as a business's own
// site unless a phone or address matches.
func NewScorer(minConfidence float64, directories []string) *Scorer {
	dirs := make(map[string]bool, len(directories))
	for _, d := range directories {
		dirs[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return &Scorer{minConfidence: minConfidence, directories: dirs}
}

// MinConfidence returns the acceptance threshold
func (s *Scorer) MinConfidence() float64 {
	return s.minConfidence
}

// IsDirectory reports whether the URL belongs to a listed directory domain
func (s *Scorer) IsDirectory(u string) bool {
	return s.directories[normalize.RegistrableDomain(u)]
}

// Score evaluates every result and picks the best one at or above the
// threshold.
func (s *Scorer) Score(facts evidence.Facts, results []domain.SearchResult) Decision {
	m := newMatcher(facts)

	var d Decision
	for _, r := range results {
		u, ok := normalize.URL(r.URL)
		if !ok {
			continue
		}
		sc := s.scoreOne(m, r, u)
		if sc.Confidence > 0 && !sc.Strong {
			d.Weak = true
		}
		d.Ranked = append(d.Ranked, sc)
	}

	sort.SliceStable(d.Ranked, func(i, j int) bool {
		return d.Ranked[i].Confidence > d.Ranked[j].Confidence
	})

	if len(d.Ranked) > 0 && d.Ranked[0].Confidence >= s.minConfidence && d.Ranked[0].Confidence > 0 {
		d.Best = &d.Ranked[0]
	}
	d.Rationale = s.rationale(&d, len(results))

	return d
}

func (s *Scorer) scoreOne(m *matcher, r domain.SearchResult, u string) Scored {
	sc := Scored{Result: r, URL: u, Directory: s.IsDirectory(u)}

	text := r.Title + " " + r.Snippet + " " + r.URL
	folded := normalize.Fold(text)

	phone := m.phoneIn(text)
	address := m.street != "" && strings.Contains(folded, m.street)
	name := m.nameIn(folded)
	nameInHost := m.nameInHost(u)
	locality := m.locality != "" && strings.Contains(folded, m.locality)

	if phone {
		sc.Signals = append(sc.Signals, domain.Signal{Kind: domain.SignalPhone, URL: u, Weight: weightPhone})
	}
	if address {
		sc.Signals = append(sc.Signals, domain.Signal{Kind: domain.SignalAddress, URL: u, Weight: weightAddress, Detail: m.street})
	}

	switch {
	case phone || address:
		sc.Strong = true
		conf := weightAddress
		if phone && address {
			conf = weightBoth
		} else if phone {
			conf = weightPhone
		}
		if name || nameInHost {
			conf += bonusName
		}
		if sc.Directory {
			conf -= penaltyDirectory
			sc.Signals = append(sc.Signals, domain.Signal{Kind: domain.SignalDirectory, URL: u, Weight: -penaltyDirectory})
		}
		sc.Confidence = clamp(conf, strongFloor, strongCeiling)

	case sc.Directory:
		sc.Signals = append(sc.Signals, domain.Signal{Kind: domain.SignalDirectory, URL: u, Detail: "excluded"})

	case name || nameInHost:
		conf := weakNameOnly
		if locality {
			conf = weakNameLocality
		}
		if nameInHost {
			conf += bonusNameInHost
		}
		sc.Confidence = clamp(conf, weakNameOnly, weakCeiling)
		detail := "name"
		if locality {
			detail = "name+locality"
		}
		sc.Signals = append(sc.Signals, domain.Signal{Kind: domain.SignalNameLocality, URL: u, Weight: sc.Confidence, Detail: detail})
	}

	sc.Confidence = math.Round(sc.Confidence*100) / 100
	return sc
}

func (s *Scorer) rationale(d *Decision, total int) string {
	if d.Best != nil {
		kinds := make([]string, 0, len(d.Best.Signals))
		for _, sig := range d.Best.Signals {
			kinds = append(kinds, string(sig.Kind))
		}
		return fmt.Sprintf("accepted %s at %.2f (%s) from %d results",
			d.Best.URL, d.Best.Confidence, strings.Join(kinds, ","), total)
	}
	if w := d.TopWeak(); w != nil {
		return fmt.Sprintf("no result reached %.2f; best weak match %s at %.2f from %d results",
			s.minConfidence, w.URL, w.Confidence, total)
	}
	return fmt.Sprintf("no matching result among %d", total)
}

// matcher holds the folded facts compared against result text
type matcher struct {
	phone    string
	street   string
	locality string
	tokens   []string
	compact  string
}

// minStreetLen keeps "1 A St" style fragments from matching everywhere
const minStreetLen = 6

func newMatcher(f evidence.Facts) *matcher {
	m := &matcher{
		phone:    normalize.PhoneKey(f.Phone),
		locality: normalize.Fold(f.Locality),
		tokens:   significantTokens(f.Name),
	}
	if street := normalize.Fold(normalize.StreetLine(f.Address)); len(street) >= minStreetLen {
		m.street = street
	}
	m.compact = strings.Join(m.tokens, "")
	return m
}

// phoneIn compares the phone against each phone-shaped span of text
func (m *matcher) phoneIn(text string) bool {
	if m.phone == "" {
		return false
	}
	for _, k := range normalize.PhoneKeys(text) {
		if normalize.SamePhone(k, m.phone) {
			return true
		}
	}
	return false
}

// nameIn requires at least two thirds of the name tokens in text
func (m *matcher) nameIn(folded string) bool {
	if len(m.tokens) == 0 {
		return false
	}
	words := map[string]bool{}
	for _, w := range strings.Fields(folded) {
		words[w] = true
	}
	hits := 0
	for _, t := range m.tokens {
		if words[t] {
			hits++
		}
	}
	return hits*3 >= len(m.tokens)*2
}

func (m *matcher) nameInHost(u string) bool {
	if len(m.compact) < 4 {
		return false
	}
	host := strings.ReplaceAll(normalize.RegistrableDomain(u), "-", "")
	return strings.Contains(host, m.compact)
}

var stopwords = map[string]bool{
	"the": true, "and": true, "llc": true, "inc": true, "ltd": true, "co": true,
	"company": true, "corp": true, "of": true,
}

func significantTokens(name string) []string {
	var out []string
	for _, t := range normalize.Tokens(name, 2) {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
