package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"mockexchange/internal/core"
	"mockexchange/internal/orders"
)

// PruneOrdersOlderThan removes CLOSED orders whose ts_finish predates
// now-age (spec §4.7 maintenance operations).
func (e *Engine) PruneOrdersOlderThan(ctx context.Context, ageMillis int64) (int, error) {
	var removed int
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		cutoff := nowMillis() - ageMillis
		closed, err := e.orderStore.List(ctx, orders.ListFilter{
			Statuses: []core.OrderStatus{
				core.StatusFilled, core.StatusCanceled, core.StatusPartiallyCanceled,
				core.StatusExpired, core.StatusPartiallyExpired,
				core.StatusRejected, core.StatusPartiallyRejected,
			},
		})
		if err != nil {
			return err
		}
		for _, o := range closed {
			if o.TSFinish != nil && *o.TSFinish < cutoff {
				if err := e.orderStore.Remove(ctx, o.ID); err != nil {
					return err
				}
				removed++
			}
		}
		if e.logger != nil {
			if removed > 0 {
				e.logger.Info("pruned stale orders", "count", removed)
			} else {
				e.logger.Debug("no stale orders to prune")
			}
		}
		return nil
	})
	if err == nil && e.metrics != nil && removed > 0 {
		e.metrics.IncOrdersPruned(ctx, int64(removed))
	}
	return removed, err
}

// ExpireOrdersOlderThan transitions OPEN orders whose ts_update predates
// now-age to expired/partially_expired, releasing their reservations.
func (e *Engine) ExpireOrdersOlderThan(ctx context.Context, ageMillis int64) (int, error) {
	var expired int
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		cutoff := nowMillis() - ageMillis
		open, err := e.orderStore.List(ctx, orders.ListFilter{
			Statuses: []core.OrderStatus{core.StatusNew, core.StatusPartiallyFilled},
		})
		if err != nil {
			return err
		}
		for _, o := range open {
			if o.TSUpdate >= cutoff {
				continue
			}
			if err := e.expireOneLocked(ctx, o); err != nil {
				if e.logger != nil {
					e.logger.Error("failed to expire order", "order", o.ID, "error", err)
				}
				continue
			}
			expired++
		}
		return nil
	})
	if err == nil && e.metrics != nil && expired > 0 {
		e.metrics.IncOrdersExpired(ctx, int64(expired))
	}
	return expired, err
}

func (e *Engine) expireOneLocked(ctx context.Context, order *core.Order) error {
	base, quote, _ := splitSymbol(order.Symbol)

	if !order.ResidualQuote().IsZero() {
		if err := e.portfolio.Release(ctx, quote, order.ResidualQuote()); err != nil {
			return err
		}
	}
	if order.Side == core.Sell && !order.ResidualBase().IsZero() {
		if err := e.portfolio.Release(ctx, base, order.ResidualBase()); err != nil {
			return err
		}
	}

	status := core.StatusExpired
	if order.ActualFilled.IsPositive() {
		status = core.StatusPartiallyExpired
	}
	order.Squash()
	order.AppendHistory(nowMillis(), status, "expired: stale open order", nil)
	e.timers.cancel(order.ID)
	if err := e.orderStore.RemoveFromIndexes(ctx, order.ID, order.Symbol); err != nil {
		return err
	}
	return e.orderStore.Update(ctx, order)
}

// Mismatch reports a per-asset reservation-vs-used discrepancy found by
// CheckConsistency.
type Mismatch struct {
	Asset            string
	ExpectedUsed     decimal.Decimal
	ActualUsed       decimal.Decimal
	Diff             decimal.Decimal
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: expected used=%s actual used=%s diff=%s", m.Asset, m.ExpectedUsed, m.ActualUsed, m.Diff)
}

// CheckConsistency compares, per asset, the sum of residual reservations
// over all OPEN orders with the portfolio's recorded `used`, flagging any
// mismatch beyond epsilon (spec §8 invariant 2).
func (e *Engine) CheckConsistency(ctx context.Context) ([]Mismatch, error) {
	var mismatches []Mismatch
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		open, err := e.orderStore.List(ctx, orders.ListFilter{
			Statuses: []core.OrderStatus{core.StatusNew, core.StatusPartiallyFilled},
		})
		if err != nil {
			return err
		}

		expected := make(map[string]decimal.Decimal)
		for _, o := range open {
			base, quote, _ := splitSymbol(o.Symbol)
			expected[quote] = expected[quote].Add(o.ResidualQuote())
			if o.Side == core.Sell {
				expected[base] = expected[base].Add(o.ResidualBase())
			}
		}

		allBalances, err := e.portfolio.All(ctx)
		if err != nil {
			return err
		}

		assets := make(map[string]struct{})
		for a := range expected {
			assets[a] = struct{}{}
		}
		for a := range allBalances {
			assets[a] = struct{}{}
		}

		for asset := range assets {
			exp := expected[asset]
			actual := allBalances[asset].Used
			diff := exp.Sub(actual).Abs()
			if diff.GreaterThan(epsilon) {
				mismatches = append(mismatches, Mismatch{Asset: asset, ExpectedUsed: exp, ActualUsed: actual, Diff: diff})
			}
		}
		return nil
	})
	if err == nil && e.metrics != nil && len(mismatches) > 0 {
		e.metrics.IncAuditDrift(ctx, int64(len(mismatches)))
	}
	return mismatches, err
}
