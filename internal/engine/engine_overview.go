package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"mockexchange/internal/core"
	"mockexchange/internal/orders"
)

// AssetsSummary is the result of GetSummaryAssets (spec §4.7 overviews).
type AssetsSummary struct {
	AssetsFreeValue   decimal.Decimal
	AssetsFrozenValue decimal.Decimal
	AssetsTotalValue  decimal.Decimal
	CashFree          decimal.Decimal
	CashUsed          decimal.Decimal
	CashTotal         decimal.Decimal
	TotalFreeValue    decimal.Decimal
	TotalFrozenValue  decimal.Decimal
	TotalEquity       decimal.Decimal
	// Mismatch is true if the reserved-from-orders view disagrees with the
	// portfolio's recorded `used` beyond a 1e-3 cash-unit tolerance.
	Mismatch bool
}

var assetsSummaryTolerance = decimal.New(1, -3)

// GetSummaryAssets values every asset against a single frozen price
// snapshot, separating cash from non-cash assets (spec §4.7).
func (e *Engine) GetSummaryAssets(ctx context.Context) (AssetsSummary, error) {
	var summary AssetsSummary
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		balances, err := e.portfolio.All(ctx)
		if err != nil {
			return err
		}
		open, err := e.orderStore.List(ctx, orders.ListFilter{
			Statuses: []core.OrderStatus{core.StatusNew, core.StatusPartiallyFilled},
		})
		if err != nil {
			return err
		}

		reservedFromOrders := make(map[string]decimal.Decimal)
		for _, o := range open {
			base, quote, _ := splitSymbol(o.Symbol)
			reservedFromOrders[quote] = reservedFromOrders[quote].Add(o.ResidualQuote())
			if o.Side == core.Sell {
				reservedFromOrders[base] = reservedFromOrders[base].Add(o.ResidualBase())
			}
		}

		freeValue := decimal.Zero
		frozenValue := decimal.Zero
		assetsFree := decimal.Zero
		assetsFrozen := decimal.Zero
		mismatch := false

		for asset, bal := range balances {
			var value decimal.Decimal
			if asset == e.params.CashAsset {
				value = decimal.NewFromInt(1)
				summary.CashFree = bal.Free
				summary.CashUsed = bal.Used
				summary.CashTotal = bal.Total()
			} else {
				price, perr := e.market.LastPrice(ctx, asset+"/"+e.params.CashAsset)
				if perr != nil {
					continue
				}
				value = price
			}
			freeValue = freeValue.Add(bal.Free.Mul(value))
			frozenValue = frozenValue.Add(bal.Used.Mul(value))
			if asset != e.params.CashAsset {
				assetsFree = assetsFree.Add(bal.Free.Mul(value))
				assetsFrozen = assetsFrozen.Add(bal.Used.Mul(value))
			}

			if reserved, ok := reservedFromOrders[asset]; ok {
				if reserved.Sub(bal.Used).Abs().Mul(value).GreaterThan(assetsSummaryTolerance) {
					mismatch = true
				}
			}
		}

		summary.AssetsFreeValue = assetsFree
		summary.AssetsFrozenValue = assetsFrozen
		summary.AssetsTotalValue = assetsFree.Add(assetsFrozen)
		summary.TotalFreeValue = freeValue
		summary.TotalFrozenValue = frozenValue
		summary.TotalEquity = freeValue.Add(frozenValue)
		summary.Mismatch = mismatch
		return nil
	})
	return summary, err
}

// CapitalSummary is the result of GetSummaryCapital.
type CapitalSummary struct {
	Equity      decimal.Decimal
	Deposits    decimal.Decimal
	Withdrawals decimal.Decimal
	ProfitLoss  decimal.Decimal

	// PerAssetDeposits and PerAssetWithdrawals are populated only when
	// aggregate=false, keyed by asset, one ledger each (spec §3 models
	// deposits and withdrawals as separate per-asset accounts).
	PerAssetDeposits    map[string]core.InvestmentAccount
	PerAssetWithdrawals map[string]core.InvestmentAccount
}

// GetSummaryCapital returns aggregated {equity, deposits, withdrawals,
// profit_loss} or the raw per-asset breakdown (spec §4.7).
func (e *Engine) GetSummaryCapital(ctx context.Context, aggregate bool) (CapitalSummary, error) {
	var result CapitalSummary
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		deposits, err := e.deposits.All(ctx)
		if err != nil {
			return err
		}
		withdrawals, err := e.withdrawals.All(ctx)
		if err != nil {
			return err
		}

		totalDeposits := decimal.Zero
		for _, d := range deposits {
			totalDeposits = totalDeposits.Add(d.RefValue)
		}
		totalWithdrawals := decimal.Zero
		for _, w := range withdrawals {
			totalWithdrawals = totalWithdrawals.Add(w.RefValue)
		}

		summary, err := e.summaryEquityLocked(ctx)
		if err != nil {
			return err
		}

		result.Equity = summary
		result.Deposits = totalDeposits
		result.Withdrawals = totalWithdrawals
		result.ProfitLoss = summary.Sub(totalDeposits.Sub(totalWithdrawals))

		if !aggregate {
			perDeposit := make(map[string]core.InvestmentAccount, len(deposits))
			for _, d := range deposits {
				perDeposit[d.Asset] = d
			}
			perWithdrawal := make(map[string]core.InvestmentAccount, len(withdrawals))
			for _, w := range withdrawals {
				perWithdrawal[w.Asset] = w
			}
			result.PerAssetDeposits = perDeposit
			result.PerAssetWithdrawals = perWithdrawal
		}
		return nil
	})
	return result, err
}

func (e *Engine) summaryEquityLocked(ctx context.Context) (decimal.Decimal, error) {
	balances, err := e.portfolio.All(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	equity := decimal.Zero
	for asset, bal := range balances {
		if asset == e.params.CashAsset {
			equity = equity.Add(bal.Total())
			continue
		}
		price, perr := e.market.LastPrice(ctx, asset+"/"+e.params.CashAsset)
		if perr != nil {
			continue
		}
		equity = equity.Add(bal.Total().Mul(price))
	}
	return equity, nil
}

// TradeStatsResult groups counters by side.
type TradeStatsResult struct {
	Buy  map[string]core.TradeStats
	Sell map[string]core.TradeStats
}

// GetTradeStats reads trade counters via the index sets, optionally
// filtered by side and base assets (spec §4.7).
func (e *Engine) GetTradeStats(ctx context.Context, side core.OrderSide, hasSide bool, assets []string) (TradeStatsResult, error) {
	result := TradeStatsResult{Buy: map[string]core.TradeStats{}, Sell: map[string]core.TradeStats{}}
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		keys, kerr := e.statsTrack.List(ctx)
		if kerr != nil {
			return kerr
		}
		allowed := make(map[string]bool, len(assets))
		for _, a := range assets {
			allowed[a] = true
		}
		for _, key := range keys {
			if hasSide && key.Side != side {
				continue
			}
			if len(allowed) > 0 && !allowed[key.Base] {
				continue
			}
			bucket, berr := e.statsTrack.Get(ctx, key)
			if berr != nil {
				return berr
			}
			if key.Side == core.Buy {
				result.Buy[key.Base] = bucket
			} else {
				result.Sell[key.Base] = bucket
			}
		}
		return nil
	})
	return result, err
}
