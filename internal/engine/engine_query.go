package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"mockexchange/internal/core"
	"mockexchange/internal/orders"
)

// ListSymbols returns every symbol with a stored ticker.
func (e *Engine) ListSymbols(ctx context.Context) ([]string, error) {
	var out []string
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		symbols, err := e.market.Tickers(ctx)
		if err != nil {
			return err
		}
		sort.Strings(symbols)
		out = symbols
		return nil
	})
	return out, err
}

// FetchTicker returns the TradingPair for symbol (nil if absent or malformed).
func (e *Engine) FetchTicker(ctx context.Context, symbol string) (*core.TradingPair, error) {
	var pair *core.TradingPair
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		p, err := e.market.FetchTicker(ctx, symbol)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	return pair, err
}

// FetchBalance returns asset's balance, or every balance if asset is empty.
func (e *Engine) FetchBalance(ctx context.Context, asset string) (map[string]core.AssetBalance, error) {
	out := make(map[string]core.AssetBalance)
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		if asset != "" {
			bal, err := e.portfolio.Get(ctx, asset)
			if err != nil {
				return err
			}
			out[asset] = bal
			return nil
		}
		all, err := e.portfolio.All(ctx)
		if err != nil {
			return err
		}
		out = all
		return nil
	})
	return out, err
}

// ListAssets returns every asset with a recorded balance, sorted by name,
// matching the original engine's fetch_balance_list convenience view.
func (e *Engine) ListAssets(ctx context.Context) ([]string, error) {
	var out []string
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		all, err := e.portfolio.All(ctx)
		if err != nil {
			return err
		}
		assets := make([]string, 0, len(all))
		for a := range all {
			assets = append(assets, a)
		}
		sort.Strings(assets)
		out = assets
		return nil
	})
	return out, err
}

// GetOrder returns the order with id.
func (e *Engine) GetOrder(ctx context.Context, id string, includeHistory bool) (*core.Order, error) {
	var order *core.Order
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		o, err := e.orderStore.Get(ctx, id)
		if err != nil {
			return err
		}
		if !includeHistory {
			o.History = nil
		}
		order = o
		return nil
	})
	return order, err
}

// ListOrdersFilter narrows ListOrders; mirrors orders.ListFilter but keeps
// the engine's public surface decoupled from the storage package.
type ListOrdersFilter struct {
	Statuses       []core.OrderStatus
	Symbol         string
	Side           core.OrderSide
	HasSide        bool
	Tail           int
	IncludeHistory bool
}

// ListOrders returns orders matching filter, newest-updated first.
func (e *Engine) ListOrders(ctx context.Context, filter ListOrdersFilter) ([]*core.Order, error) {
	var out []*core.Order
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		result, err := e.orderStore.List(ctx, orders.ListFilter{
			Statuses:       filter.Statuses,
			Symbol:         filter.Symbol,
			Side:           filter.Side,
			HasSide:        filter.HasSide,
			Tail:           filter.Tail,
			IncludeHistory: filter.IncludeHistory,
		})
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	return out, err
}

// CanExecuteResult is the dry-run outcome of CanExecute.
type CanExecuteResult struct {
	OK     bool
	Reason string
}

// CanExecute dry-runs a funds check similar to create_order's, without
// reserving anything or persisting an order. It prices at price, or at the
// last price when price is nil; buys check free quote against notion plus
// fee, sells check only free base against amount (the quote fee of a sell
// is not checked).
func (e *Engine) CanExecute(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, price *decimal.Decimal) (CanExecuteResult, error) {
	var result CanExecuteResult
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		base, quote, ok := splitSymbol(symbol)
		if !ok {
			result = CanExecuteResult{OK: false, Reason: "invalid symbol"}
			return nil
		}
		px := decimal.Zero
		if price != nil {
			px = *price
		} else {
			last, err := e.market.LastPrice(ctx, symbol)
			if err != nil {
				return err
			}
			px = last
		}
		fee := amount.Mul(px).Mul(e.params.Commission)
		if side == core.Buy {
			bal, err := e.portfolio.Get(ctx, quote)
			if err != nil {
				return err
			}
			need := amount.Mul(px).Add(fee)
			if bal.Free.LessThan(need) {
				result = CanExecuteResult{OK: false, Reason: "need " + need.String() + " " + quote + ", have " + bal.Free.String()}
			} else {
				result = CanExecuteResult{OK: true}
			}
		} else {
			bal, err := e.portfolio.Get(ctx, base)
			if err != nil {
				return err
			}
			if bal.Free.LessThan(amount) {
				result = CanExecuteResult{OK: false, Reason: "need " + amount.String() + " " + base + ", have " + bal.Free.String()}
			} else {
				result = CanExecuteResult{OK: true}
			}
		}
		return nil
	})
	return result, err
}
