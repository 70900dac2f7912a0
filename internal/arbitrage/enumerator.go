// Package arbitrage enumerates stablecoin cycles over the pair catalog,
// prices them against live quotes and drives the periodic detection tick.
package arbitrage

import (
	"sync"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/catalog"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// Enumerator lists every closed cycle the catalog supports. Results are
// memoised per catalog version; the enumeration itself is O(S^2 * C^2) for
// quadrangular paths and must stay off the per-tick path.
type Enumerator struct {
	quadrangular bool

	mu      sync.Mutex
	version string
	cycles  []domain.Cycle
}

// NewEnumerator creates an Enumerator. When quadrangular is false only
// 2-leg cycles are produced.
func NewEnumerator(quadrangular bool) *Enumerator {
	return &Enumerator{quadrangular: quadrangular}
}

// Cycles returns the cycles for cat, computing them on first use of a given
// catalog version. The returned slice is shared and must not be modified.
func (e *Enumerator) Cycles(cat *catalog.Catalog) []domain.Cycle {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cycles != nil && e.version == cat.Version() {
		return e.cycles
	}

	cycles := Triangular(cat)
	if e.quadrangular {
		cycles = append(cycles, Quadrangular(cat)...)
	}
	if cycles == nil {
		cycles = []domain.Cycle{}
	}
	e.cycles = cycles
	e.version = cat.Version()
	return e.cycles
}

// Triangular enumerates start -> coin -> end cycles for every ordered pair of
// distinct stablecoins.
func Triangular(cat *catalog.Catalog) []domain.Cycle {
	stables := cat.ListAssetsByKind(domain.AssetKindStablecoin)
	coins := cat.ListAssetsByKind(domain.AssetKindCoin)

	var out []domain.Cycle
	for _, start := range stables {
		for _, end := range stables {
			if start.ID == end.ID {
				continue
			}
			for _, coin := range coins {
				l1, ok := leg(cat, start.Symbol, coin.Symbol)
				if !ok {
					continue
				}
				l2, ok := leg(cat, coin.Symbol, end.Symbol)
				if !ok {
					continue
				}
				out = append(out, domain.Cycle{
					Kind:       domain.CycleTriangular,
					StartAsset: start.Symbol,
					EndAsset:   end.Symbol,
					Legs:       []domain.Leg{l1, l2},
				})
			}
		}
	}
	return out
}

// Quadrangular enumerates start -> coin1 -> coin2 -> end cycles for every
// ordered pair of distinct stablecoins and ordered pair of distinct coins.
func Quadrangular(cat *catalog.Catalog) []domain.Cycle {
	stables := cat.ListAssetsByKind(domain.AssetKindStablecoin)
	coins := cat.ListAssetsByKind(domain.AssetKindCoin)

	var out []domain.Cycle
	for _, start := range stables {
		for _, c1 := range coins {
			l1, ok := leg(cat, start.Symbol, c1.Symbol)
			if !ok {
				continue
			}
			for _, c2 := range coins {
				if c1.ID == c2.ID {
					continue
				}
				l2, ok := leg(cat, c1.Symbol, c2.Symbol)
				if !ok {
					continue
				}
				for _, end := range stables {
					if start.ID == end.ID {
						continue
					}
					l3, ok := leg(cat, c2.Symbol, end.Symbol)
					if !ok {
						continue
					}
					out = append(out, domain.Cycle{
						Kind:       domain.CycleQuadrangular,
						StartAsset: start.Symbol,
						EndAsset:   end.Symbol,
						Legs:       []domain.Leg{l1, l2, l3},
					})
				}
			}
		}
	}
	return out
}

// leg resolves the conversion from -> to. Holding the pair's quote means the
// leg buys the base; holding the base means it sells it.
func leg(cat *catalog.Catalog, from, to string) (domain.Leg, bool) {
	p, orient, ok := cat.FindPair(from, to)
	if !ok {
		return domain.Leg{}, false
	}
	dir := domain.SellBase
	if orient == domain.OrientationQuote {
		dir = domain.BuyBase
	}
	return domain.Leg{
		PairID:    p.ID,
		Symbol:    p.Symbol,
		From:      from,
		To:        to,
		Base:      p.BaseSymbol,
		Quote:     p.QuoteSymbol,
		Direction: dir,
	}, true
}
