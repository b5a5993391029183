package identify

import (
	"math"
	"sort"
)

// Matcher ranks gallery entries by distance to a query embedding.
type Matcher struct {
	metric Metric
}

func NewMatcher(metric Metric) *Matcher {
	return &Matcher{metric: metric}
}

func (m *Matcher) Metric() Metric {
	return m.metric
}

// Identify compares query against every entry of g, keeps the topK closest
// and drops those farther than threshold. Entries sharing a label compete
// independently. The result is ascending by distance, ties broken by label
// and then gallery order. An empty gallery or topK <= 0 yields no candidates.
func (m *Matcher) Identify(query Embedding, g *Gallery, threshold float64, topK int) ([]Candidate, error) {
	if g == nil || g.Len() == 0 || topK <= 0 {
		return []Candidate{}, nil
	}
	if len(query) != g.Dim() {
		return nil, &DimensionMismatchError{Want: g.Dim(), Got: len(query)}
	}
	if err := CheckFinite(query); err != nil {
		return nil, err
	}

	ranked := make([]Candidate, 0, g.Len())
	for _, e := range g.entries {
		d, err := m.metric.Distance(query, e.Embedding)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, Candidate{Label: e.Label, Distance: d})
	}

	// NaN distances sort last so they never take a top-K slot.
	sort.SliceStable(ranked, func(i, j int) bool {
		di, dj := ranked[i].Distance, ranked[j].Distance
		if nanI, nanJ := math.IsNaN(di), math.IsNaN(dj); nanI || nanJ {
			return !nanI && nanJ
		}
		if di != dj {
			return di < dj
		}
		return ranked[i].Label < ranked[j].Label
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]Candidate, 0, len(ranked))
	for _, c := range ranked {
		if c.Distance <= threshold {
			out = append(out, c)
		}
	}
	return out, nil
}

// BestPerLabel keeps the first (lowest distance) candidate of every label.
// Input order is preserved, so an ascending list stays ascending.
func BestPerLabel(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Label]; ok {
			continue
		}
		seen[c.Label] = struct{}{}
		out = append(out, c)
	}
	return out
}
