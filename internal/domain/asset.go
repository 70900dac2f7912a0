package domain

// AssetKind separates stablecoins, which open and close every cycle, from
// the coins traded in between.
type AssetKind string

const (
	AssetKindStablecoin AssetKind = "stablecoin"
	AssetKindCoin       AssetKind = "coin"
)

// Asset is a tradable currency known to the catalog.
type Asset struct {
	ID      int64
	Symbol  string
	Kind    AssetKind
	Deleted bool
}

// TradingPair is a venue market between two assets. The base/quote ids are
// authoritative; Symbol is BASE+QUOTE by venue convention only.
type TradingPair struct {
	ID           int64
	Symbol       string
	BaseAssetID  int64
	QuoteAssetID int64
	BaseSymbol   string
	QuoteSymbol  string
}

// Orientation reports how a looked-up asset relates to the pair found for it.
type Orientation int

const (
	// OrientationBase means the first asset of the lookup is the pair's base.
	OrientationBase Orientation = iota
	// OrientationQuote means the first asset of the lookup is the pair's quote.
	OrientationQuote
)

func (o Orientation) String() string {
	if o == OrientationBase {
		return "base"
	}
	return "quote"
}
