// Package core holds the domain types shared by every component of the
// exchange engine: balances, orders, tickers and trade statistics.
package core

import (
	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderType is market or limit.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderStatus is one of the states of the order state machine (spec §4.5).
type OrderStatus string

const (
	StatusNew                OrderStatus = "new"
	StatusPartiallyFilled    OrderStatus = "partially_filled"
	StatusFilled             OrderStatus = "filled"
	StatusCanceled           OrderStatus = "canceled"
	StatusPartiallyCanceled  OrderStatus = "partially_canceled"
	StatusExpired            OrderStatus = "expired"
	StatusPartiallyExpired   OrderStatus = "partially_expired"
	StatusRejected           OrderStatus = "rejected"
	StatusPartiallyRejected  OrderStatus = "partially_rejected"
)

// OpenStatuses is the set of statuses considered OPEN.
var OpenStatuses = map[OrderStatus]bool{
	StatusNew:             true,
	StatusPartiallyFilled: true,
}

// IsOpen reports whether a status belongs to the OPEN set.
func (s OrderStatus) IsOpen() bool { return OpenStatuses[s] }

// IsClosed reports whether a status belongs to the CLOSED set.
func (s OrderStatus) IsClosed() bool { return !OpenStatuses[s] }

// AssetBalance is a single portfolio row; total is always derived.
type AssetBalance struct {
	Asset string          `json:"asset"`
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
}

// Total returns free+used.
func (b AssetBalance) Total() decimal.Decimal {
	return b.Free.Add(b.Used)
}

// ZeroBalance returns the default zero balance for an asset.
func ZeroBalance(asset string) AssetBalance {
	return AssetBalance{Asset: asset, Free: decimal.Zero, Used: decimal.Zero}
}

// HistoryEntry is one append-only record of an order state change.
type HistoryEntry struct {
	TS      int64       `json:"ts"`
	Status  OrderStatus `json:"status"`
	Comment string      `json:"comment,omitempty"`
	Fill    *FillDetail `json:"fill,omitempty"`
}

// FillDetail describes a single execution step appended to an order's history.
type FillDetail struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Notion decimal.Decimal `json:"notion"`
	Fee    decimal.Decimal `json:"fee"`
}

// Order is the canonical order record (spec §3).
type Order struct {
	ID     string      `json:"id"`
	Symbol string      `json:"symbol"`
	Side   OrderSide   `json:"side"`
	Type   OrderType   `json:"type"`
	Amount decimal.Decimal `json:"amount"`

	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`

	FeeRate        decimal.Decimal `json:"fee_rate"`
	FeeCurrency    string          `json:"fee_currency"`
	NotionCurrency string          `json:"notion_currency"`

	InitialBookedNotion decimal.Decimal `json:"initial_booked_notion"`
	InitialBookedFee    decimal.Decimal `json:"initial_booked_fee"`
	ReservedNotionLeft  decimal.Decimal `json:"reserved_notion_left"`
	ReservedFeeLeft     decimal.Decimal `json:"reserved_fee_left"`

	ActualFilled decimal.Decimal `json:"actual_filled"`
	ActualNotion decimal.Decimal `json:"actual_notion"`
	ActualFee    decimal.Decimal `json:"actual_fee"`
	Price        decimal.Decimal `json:"price"`

	Status OrderStatus `json:"status"`

	TSCreate int64  `json:"ts_create"`
	TSUpdate int64  `json:"ts_update"`
	TSFinish *int64 `json:"ts_finish,omitempty"`

	Comment string `json:"comment,omitempty"`

	History []HistoryEntry `json:"history,omitempty"`
}

// Base returns the base asset of the order's symbol (BASE/QUOTE).
func (o *Order) Base() string { return splitSymbol(o.Symbol)[0] }

// Quote returns the quote asset of the order's symbol.
func (o *Order) Quote() string { return splitSymbol(o.Symbol)[1] }

func splitSymbol(symbol string) [2]string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			return [2]string{symbol[:i], symbol[i+1:]}
		}
	}
	return [2]string{symbol, ""}
}

// AmountRemain is amount - actual_filled.
func (o *Order) AmountRemain() decimal.Decimal {
	return o.Amount.Sub(o.ActualFilled)
}

// ResidualQuote is the still-reserved quote (notion + fee).
func (o *Order) ResidualQuote() decimal.Decimal {
	return o.ReservedNotionLeft.Add(o.ReservedFeeLeft)
}

// ResidualBase is the still-reserved base, meaningful for sell orders only.
func (o *Order) ResidualBase() decimal.Decimal {
	if o.Side != Sell {
		return decimal.Zero
	}
	return o.AmountRemain()
}

// Squash zeroes out every reservation, used when an order reaches CLOSED.
func (o *Order) Squash() {
	o.ReservedNotionLeft = decimal.Zero
	o.ReservedFeeLeft = decimal.Zero
}

// AppendHistory appends a transition record and bumps ts_update (and
// ts_finish, once, when the order becomes CLOSED).
func (o *Order) AppendHistory(ts int64, status OrderStatus, comment string, fill *FillDetail) {
	o.History = append(o.History, HistoryEntry{TS: ts, Status: status, Comment: comment, Fill: fill})
	o.Status = status
	o.Comment = comment
	o.TSUpdate = ts
	if status.IsClosed() && o.TSFinish == nil {
		finish := ts
		o.TSFinish = &finish
	}
}

// TradingPair is a market snapshot (spec §3).
type TradingPair struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	BidVolume decimal.Decimal `json:"bid_volume"`
	AskVolume decimal.Decimal `json:"ask_volume"`
}

// TradeStatsKey identifies one (side, base, quote) counter bucket.
type TradeStatsKey struct {
	Side  OrderSide
	Base  string
	Quote string
}

// TradeStats is the counter set for one bucket.
type TradeStats struct {
	Count    int64           `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
	Notional decimal.Decimal `json:"notional"`
	Fee      decimal.Decimal `json:"fee"`
}

// InvestmentAccount tracks a deposit or withdrawal account for one asset.
type InvestmentAccount struct {
	Asset           string          `json:"asset"`
	RefSymbol       string          `json:"ref_symbol"`
	AssetQuantity   decimal.Decimal `json:"asset_quantity"`
	RefValue        decimal.Decimal `json:"ref_value"`
	PriceUnavailable bool           `json:"price_unavailable,omitempty"`
}
