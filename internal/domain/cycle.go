package domain

import "strings"

// CycleKind distinguishes 2-leg and 3-leg cycles.
type CycleKind string

const (
	CycleTriangular   CycleKind = "triangular"
	CycleQuadrangular CycleKind = "quadrangular"
)

// LegDirection tells the evaluator and the orchestrator which side of the
// pair a leg trades.
type LegDirection string

const (
	// SellBase spends the base asset to receive the quote asset (uses bid).
	SellBase LegDirection = "sell_base"
	// BuyBase spends the quote asset to receive the base asset (uses ask).
	BuyBase LegDirection = "buy_base"
)

// Leg is one conversion step of a cycle.
type Leg struct {
	PairID    int64
	Symbol    string
	From      string
	To        string
	Base      string
	Quote     string
	Direction LegDirection
}

// Cycle is a closed path that starts and ends in a stablecoin.
type Cycle struct {
	Kind       CycleKind
	StartAsset string
	EndAsset   string
	Legs       []Leg
}

// Key identifies the cycle by its asset path and pair symbols.
func (c Cycle) Key() string {
	var b strings.Builder
	b.WriteString(c.StartAsset)
	for _, l := range c.Legs {
		b.WriteString(">")
		b.WriteString(l.Symbol)
		b.WriteString(":")
		b.WriteString(l.To)
	}
	return b.String()
}

// Path returns the asset sequence, e.g. [USDT ETH USDC].
func (c Cycle) Path() []string {
	path := make([]string, 0, len(c.Legs)+1)
	path = append(path, c.StartAsset)
	for _, l := range c.Legs {
		path = append(path, l.To)
	}
	return path
}

// Valid reports whether consecutive legs chain and the cycle ends where it says.
func (c Cycle) Valid() bool {
	if len(c.Legs) < 2 || len(c.Legs) > 3 {
		return false
	}
	if c.Legs[0].From != c.StartAsset || c.Legs[len(c.Legs)-1].To != c.EndAsset {
		return false
	}
	for i := 0; i+1 < len(c.Legs); i++ {
		if c.Legs[i].To != c.Legs[i+1].From {
			return false
		}
	}
	return true
}
