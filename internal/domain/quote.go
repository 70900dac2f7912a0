package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the best bid/ask observed for a pair at a point in time.
// Crossed quotes (bid > ask) are kept as observed.
type Quote struct {
	PairID     int64
	Symbol     string
	BidPrice   decimal.Decimal
	AskPrice   decimal.Decimal
	Volume     decimal.Decimal
	ObservedAt time.Time
}
