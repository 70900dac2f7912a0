// Package catalog holds the read-only asset and trading pair reference data
// the detector enumerates cycles over.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// Catalog is an immutable, indexed view over assets and pairs. Build one with
// New; a reload produces a fresh Catalog rather than mutating an existing one.
type Catalog struct {
	assets  []domain.Asset
	pairs   []domain.TradingPair
	bySym   map[string]domain.TradingPair
	byID    map[int64]domain.TradingPair
	version string
}

// New indexes the given assets and pairs. Deleted assets are dropped together
// with every pair that references them. Pair base/quote symbols are resolved
// from the asset ids so orientation never depends on splitting the symbol.
func New(assets []domain.Asset, pairs []domain.TradingPair) (*Catalog, error) {
	symByID := make(map[int64]string, len(assets))
	live := make([]domain.Asset, 0, len(assets))
	for _, a := range assets {
		if a.Deleted {
			continue
		}
		symByID[a.ID] = a.Symbol
		live = append(live, a)
	}

	c := &Catalog{
		assets: live,
		bySym:  make(map[string]domain.TradingPair, len(pairs)),
		byID:   make(map[int64]domain.TradingPair, len(pairs)),
	}

	for _, p := range pairs {
		base, okB := symByID[p.BaseAssetID]
		quote, okQ := symByID[p.QuoteAssetID]
		if !okB || !okQ {
			continue
		}
		if p.BaseAssetID == p.QuoteAssetID {
			return nil, fmt.Errorf("catalog: pair %s has identical base and quote", p.Symbol)
		}
		p.BaseSymbol = base
		p.QuoteSymbol = quote
		if p.Symbol == "" {
			p.Symbol = base + quote
		}
		key := base + quote
		if _, dup := c.bySym[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate pair %s", key)
		}
		c.bySym[key] = p
		c.byID[p.ID] = p
		c.pairs = append(c.pairs, p)
	}

	sort.Slice(c.assets, func(i, j int) bool { return c.assets[i].ID < c.assets[j].ID })
	sort.Slice(c.pairs, func(i, j int) bool { return c.pairs[i].ID < c.pairs[j].ID })
	c.version = c.hash()
	return c, nil
}

// FindPair looks up the pair trading a against b in either orientation. The
// returned Orientation is OrientationBase when a is the pair's base asset.
// A missing pair is reported through ok, never as an error.
func (c *Catalog) FindPair(a, b string) (domain.TradingPair, domain.Orientation, bool) {
	if p, ok := c.bySym[a+b]; ok {
		return p, domain.OrientationBase, true
	}
	if p, ok := c.bySym[b+a]; ok {
		return p, domain.OrientationQuote, true
	}
	return domain.TradingPair{}, 0, false
}

// PairByID returns the pair with the given id.
func (c *Catalog) PairByID(id int64) (domain.TradingPair, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// PairBySymbol returns the pair with the given exchange symbol.
func (c *Catalog) PairBySymbol(symbol string) (domain.TradingPair, bool) {
	if p, ok := c.bySym[symbol]; ok && p.Symbol == symbol {
		return p, true
	}
	for _, p := range c.pairs {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return domain.TradingPair{}, false
}

// ListAssetsByKind returns the live assets of one kind ordered by id.
func (c *Catalog) ListAssetsByKind(kind domain.AssetKind) []domain.Asset {
	var out []domain.Asset
	for _, a := range c.assets {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// ListAssets returns every live asset ordered by id.
func (c *Catalog) ListAssets() []domain.Asset {
	out := make([]domain.Asset, len(c.assets))
	copy(out, c.assets)
	return out
}

// ListPairs returns every pair ordered by id.
func (c *Catalog) ListPairs() []domain.TradingPair {
	out := make([]domain.TradingPair, len(c.pairs))
	copy(out, c.pairs)
	return out
}

// Symbols returns the pair symbols, used to subscribe the quote feed.
func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.pairs))
	for _, p := range c.pairs {
		out = append(out, p.Symbol)
	}
	return out
}

// Version is a content hash of the catalog. Two catalogs with the same assets
// and pairs share a version.
func (c *Catalog) Version() string {
	return c.version
}

func (c *Catalog) hash() string {
	h := sha256.New()
	for _, a := range c.assets {
		h.Write([]byte(strconv.FormatInt(a.ID, 10)))
		h.Write([]byte{0})
		h.Write([]byte(a.Symbol))
		h.Write([]byte{0})
		h.Write([]byte(a.Kind))
		h.Write([]byte{'\n'})
	}
	for _, p := range c.pairs {
		h.Write([]byte(strconv.FormatInt(p.ID, 10)))
		h.Write([]byte{0})
		h.Write([]byte(p.BaseSymbol))
		h.Write([]byte{0})
		h.Write([]byte(p.QuoteSymbol))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
