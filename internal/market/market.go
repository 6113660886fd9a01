// Package market implements the Market Store (spec §4.2): per-symbol
// bid/ask/last/volume snapshots layered on the abstract persistence
// interface. Grounded on the original Python engine's market.py, which
// scans "sym_*" ticker hashes and logs malformed records once rather than
// failing the caller.
package market

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"mockexchange/internal/core"
	"mockexchange/internal/storage"
	"mockexchange/pkg/apperrors"
)

const tickerPrefix = "sym_"

func tickerKey(symbol string) string { return tickerPrefix + symbol }

// Market reads and writes TradingPair snapshots.
type Market struct {
	store  storage.Store
	logger core.Logger

	mu             sync.Mutex
	warnedMalformed map[string]bool
}

// New builds a Market Store bound to store, logging through logger.
func New(store storage.Store, logger core.Logger) *Market {
	return &Market{store: store, logger: logger, warnedMalformed: make(map[string]bool)}
}

// LastPrice returns the current price for symbol, or NotFound if absent.
func (m *Market) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	raw, ok, err := m.store.HGet(ctx, tickerKey(symbol), "price")
	if err != nil {
		return decimal.Zero, apperrors.WrapStorage("market.last_price", err)
	}
	if !ok {
		return decimal.Zero, apperrors.NewNotFound("symbol", symbol)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		m.warnMalformed(symbol)
		return decimal.Zero, apperrors.NewNotFound("symbol", symbol)
	}
	return price, nil
}

// FetchTicker returns the TradingPair for symbol, nil if absent or
// malformed (malformed records are logged once and never abort the caller).
func (m *Market) FetchTicker(ctx context.Context, symbol string) (*core.TradingPair, error) {
	fields, err := m.store.HGetAll(ctx, tickerKey(symbol))
	if err != nil {
		return nil, apperrors.WrapStorage("market.fetch_ticker", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	price, ok := parseDecimal(fields["price"])
	if !ok {
		m.warnMalformed(symbol)
		return nil, nil
	}

	ts, _ := strconv.ParseInt(fields["timestamp"], 10, 64)

	bid, ok := parseDecimal(fields["bid"])
	if !ok {
		bid = price
	}
	ask, ok := parseDecimal(fields["ask"])
	if !ok {
		ask = price
	}
	bidVol, ok := parseDecimal(fields["bid_volume"])
	if !ok {
		bidVol = decimal.Zero
	}
	askVol, ok := parseDecimal(fields["ask_volume"])
	if !ok {
		askVol = decimal.Zero
	}

	return &core.TradingPair{
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts,
		Bid:       bid,
		Ask:       ask,
		BidVolume: bidVol,
		AskVolume: askVol,
	}, nil
}

// SetLastPrice writes every non-zero-value field of pair atomically.
func (m *Market) SetLastPrice(ctx context.Context, pair core.TradingPair) error {
	err := m.store.Pipeline(ctx, func(p storage.Pipeliner) error {
		p.HSet(tickerKey(pair.Symbol), "price", pair.Price.String())
		p.HSet(tickerKey(pair.Symbol), "timestamp", strconv.FormatInt(pair.Timestamp, 10))
		if !pair.Bid.IsZero() {
			p.HSet(tickerKey(pair.Symbol), "bid", pair.Bid.String())
		}
		if !pair.Ask.IsZero() {
			p.HSet(tickerKey(pair.Symbol), "ask", pair.Ask.String())
		}
		if !pair.BidVolume.IsZero() {
			p.HSet(tickerKey(pair.Symbol), "bid_volume", pair.BidVolume.String())
		}
		if !pair.AskVolume.IsZero() {
			p.HSet(tickerKey(pair.Symbol), "ask_volume", pair.AskVolume.String())
		}
		return nil
	})
	if err != nil {
		return apperrors.WrapStorage("market.set_last_price", err)
	}
	return nil
}

// Tickers returns every symbol that has a stored ticker.
func (m *Market) Tickers(ctx context.Context) ([]string, error) {
	keys, err := m.store.ScanKeys(ctx, tickerPrefix)
	if err != nil {
		return nil, apperrors.WrapStorage("market.tickers", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, tickerPrefix))
	}
	return out, nil
}

func (m *Market) warnMalformed(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warnedMalformed[symbol] {
		return
	}
	m.warnedMalformed[symbol] = true
	if m.logger != nil {
		m.logger.Warn("malformed ticker record, treating as absent", "symbol", symbol)
	}
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
