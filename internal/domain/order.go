package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the exchange side of a market order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// TransactionType is the causal kind of a transaction.
type TransactionType string

const (
	TransactionBuy        TransactionType = "BUY"
	TransactionSell       TransactionType = "SELL"
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
)

// TransactionStatus tracks the outcome recorded on a transaction.
type TransactionStatus string

const (
	TransactionFilled    TransactionStatus = "FILLED"
	TransactionCompleted TransactionStatus = "COMPLETED"
)

// Transaction is the anchor every order, fee and vault movement references.
type Transaction struct {
	ID            string
	Amount        decimal.Decimal
	PricePerUnit  decimal.Decimal
	Status        TransactionStatus
	Type          TransactionType
	TradingPairID *int64
	Asset         string
	Result        *string
	Profit        *decimal.Decimal
	ExecutionID   *string
	CreatedAt     time.Time
}

// Order is one exchange leg as executed.
type Order struct {
	ID              string
	TransactionID   string
	ExchangeOrderID string
	Symbol          string
	Side            OrderSide
	RequestedQty    decimal.Decimal
	ExecutedQty     decimal.Decimal
	FillsPrice      decimal.Decimal
	FillsQty        decimal.Decimal
	FillsCommission decimal.Decimal
	CommissionAsset string
	LastTradeID     int64
	CreatedAt       time.Time
}

// Fee is the commission charged for an order, stored as a negative amount.
type Fee struct {
	ID      string
	OrderID string
	Asset   string
	Amount  decimal.Decimal
}

// Fill is one execution report inside an order response.
type Fill struct {
	Price           decimal.Decimal
	Qty             decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	TradeID         int64
}

// OrderResult is the exchange response to a market order.
type OrderResult struct {
	ExchangeOrderID     string
	Symbol              string
	Side                OrderSide
	Status              string
	RequestedQty        decimal.Decimal
	ExecutedQty         decimal.Decimal
	CummulativeQuoteQty decimal.Decimal
	Fills               []Fill
	TransactTime        time.Time
}

// FillSummary aggregates the fills of one order.
type FillSummary struct {
	TotalQty        decimal.Decimal
	WeightedPrice   decimal.Decimal
	TotalCommission decimal.Decimal
	CommissionAsset string
	LastTradeID     int64
}

// Settlement is everything persisted for one filled leg.
type Settlement struct {
	Transaction Transaction
	Order       Order
	Fee         Fee
}
