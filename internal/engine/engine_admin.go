package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"mockexchange/internal/core"
	"mockexchange/internal/investments"
	"mockexchange/pkg/apperrors"
)

// DepositAsset credits free balance and records the deposit account (spec
// §4.7 admin operations).
func (e *Engine) DepositAsset(ctx context.Context, asset string, amount decimal.Decimal) (core.AssetBalance, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return core.AssetBalance{}, apperrors.NewValidation("amount", "must be > 0")
	}
	var bal core.AssetBalance
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		b, err := e.creditAndRecord(ctx, asset, amount, e.deposits)
		if err != nil {
			return err
		}
		bal = b
		return nil
	})
	return bal, err
}

// WithdrawAsset debits free balance (requiring sufficient funds) and
// records the withdrawal account.
func (e *Engine) WithdrawAsset(ctx context.Context, asset string, amount decimal.Decimal) (core.AssetBalance, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return core.AssetBalance{}, apperrors.NewValidation("amount", "must be > 0")
	}
	var bal core.AssetBalance
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		current, err := e.portfolio.Get(ctx, asset)
		if err != nil {
			return err
		}
		if current.Free.LessThan(amount) {
			return apperrors.NewInsufficientFunds(asset, amount.String(), current.Free.String())
		}
		b, err := e.creditAndRecord(ctx, asset, amount.Neg(), e.withdrawals)
		if err != nil {
			return err
		}
		bal = b
		return nil
	})
	return bal, err
}

func (e *Engine) creditAndRecord(ctx context.Context, asset string, amount decimal.Decimal, ledger *investments.Ledger) (core.AssetBalance, error) {
	bal, err := e.portfolio.Get(ctx, asset)
	if err != nil {
		return core.AssetBalance{}, err
	}
	bal.Free = bal.Free.Add(amount)
	if err := e.portfolio.Set(ctx, bal); err != nil {
		return core.AssetBalance{}, err
	}

	refSymbol := asset + "/" + e.params.CashAsset
	refValue := amount.Abs()
	priceUnavailable := false
	if asset != e.params.CashAsset {
		price, err := e.market.LastPrice(ctx, refSymbol)
		if err != nil {
			priceUnavailable = true
			refValue = decimal.Zero
		} else {
			refValue = amount.Abs().Mul(price)
		}
	}
	if err := ledger.Record(ctx, asset, refSymbol, amount, refValue, priceUnavailable); err != nil {
		return core.AssetBalance{}, err
	}

	return bal, nil
}

// SetBalance overwrites an asset's balance unconditionally; intended for
// tests and operator tooling.
func (e *Engine) SetBalance(ctx context.Context, asset string, free, used decimal.Decimal) (core.AssetBalance, error) {
	if free.IsNegative() || used.IsNegative() {
		return core.AssetBalance{}, apperrors.NewValidation("free/used", "must be >= 0")
	}
	bal := core.AssetBalance{Asset: asset, Free: free, Used: used}
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		return e.portfolio.Set(ctx, bal)
	})
	return bal, err
}

// notionForVolume is the default notional (in quote currency) used to
// derive bid/ask volume when a caller omits it, matching the original's
// 100k USD default (server.py:patch_ticker_price).
var notionForVolume = decimal.NewFromInt(100_000)

// SetTicker updates a symbol's market snapshot. If bid/ask volumes are
// omitted, they default to notionForVolume/price so fills never starve on
// liquidity (spec §4.7); a non-positive price yields a zero default volume,
// matching the original's `else 0.0` branch.
func (e *Engine) SetTicker(ctx context.Context, symbol string, price decimal.Decimal, bidVolume, askVolume *decimal.Decimal) (*core.TradingPair, error) {
	var pair *core.TradingPair
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		defaultVolume := decimal.Zero
		if price.IsPositive() {
			defaultVolume = notionForVolume.Div(price)
		}
		bv := defaultVolume
		if bidVolume != nil {
			bv = *bidVolume
		}
		av := defaultVolume
		if askVolume != nil {
			av = *askVolume
		}
		snapshot := core.TradingPair{
			Symbol:    symbol,
			Price:     price,
			Timestamp: nowMillis(),
			Bid:       price,
			Ask:       price,
			BidVolume: bv,
			AskVolume: av,
		}
		if err := e.market.SetLastPrice(ctx, snapshot); err != nil {
			return err
		}
		p, err := e.market.FetchTicker(ctx, symbol)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	return pair, err
}

// Reset cancels pending timers and clears portfolio, orders, trade stats
// and investment accounts (spec §6.4).
func (e *Engine) Reset(ctx context.Context) error {
	return e.dispatcher.Do(ctx, func(ctx context.Context) error {
		e.timers.cancelAll()
		if err := e.portfolio.Clear(ctx); err != nil {
			return err
		}
		if err := e.orderStore.Clear(ctx); err != nil {
			return err
		}
		if err := e.statsTrack.Clear(ctx); err != nil {
			return err
		}
		if err := e.deposits.Clear(ctx); err != nil {
			return err
		}
		if err := e.withdrawals.Clear(ctx); err != nil {
			return err
		}
		return nil
	})
}
