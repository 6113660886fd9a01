package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockexchange/internal/core"
)

// TestProcessPriceTickRejectsBuyOnReservationShortfall covers the
// rejectMidFill path: the quote reservation backing a resting buy order is
// drained out from under it (e.g. by an operator's set_balance) before the
// order ever fills, so the fill-time solvency check must reject instead of
// overdrawing the portfolio.
func TestProcessPriceTickRejectsBuyOnReservationShortfall(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(2), ptr("100"))
	require.NoError(t, err)
	require.Equal(t, core.StatusNew, order.Status)

	_, err = e.SetBalance(ctx, "USDT", decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	require.NoError(t, e.ProcessPriceTick(ctx, "BTC/USDT"))

	got, err := e.GetOrder(ctx, order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRejected, got.Status, "no fill happened yet, so the reject is total, not partial")
	assert.Contains(t, got.Comment, "insufficient quote reserve")
}

// TestProcessPriceTickRejectsSellOnReservationShortfall mirrors the buy-side
// case for a sell order whose reserved base (or fee) was drained before the
// fill-time check runs.
func TestProcessPriceTickRejectsSellOnReservationShortfall(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0.01")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "BTC", decimal.NewFromInt(5), decimal.Zero)
	require.NoError(t, err)
	_, err = e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Sell, core.Limit, decimal.NewFromInt(2), ptr("100"))
	require.NoError(t, err)
	require.Equal(t, core.StatusNew, order.Status)

	_, err = e.SetBalance(ctx, "BTC", decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	require.NoError(t, e.ProcessPriceTick(ctx, "BTC/USDT"))

	got, err := e.GetOrder(ctx, order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRejected, got.Status)
	assert.Contains(t, got.Comment, "insufficient base/fee reserve")
}

// TestProcessPriceTickPartialThenFullFill exercises spec §8's staged-fill
// path: a tick that can only supply part of the order's remaining amount
// leaves it partially_filled, and a subsequent tick with enough liquidity
// closes it out.
func TestProcessPriceTickPartialThenFullFill(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	thin := decimal.NewFromInt(1)
	_, err := e.SetTicker(ctx, "BTC/USDT", decimal.NewFromInt(100), &thin, &thin)
	require.NoError(t, err)
	_, err = e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(3), ptr("100"))
	require.NoError(t, err)

	require.NoError(t, e.ProcessPriceTick(ctx, "BTC/USDT"))

	got, err := e.GetOrder(ctx, order.ID, false)
	require.NoError(t, err)
	require.Equal(t, core.StatusPartiallyFilled, got.Status)
	assert.True(t, decimal.NewFromInt(1).Equal(got.ActualFilled))

	deep := decimal.NewFromInt(1_000_000)
	_, err = e.SetTicker(ctx, "BTC/USDT", decimal.NewFromInt(100), &deep, &deep)
	require.NoError(t, err)

	require.NoError(t, e.ProcessPriceTick(ctx, "BTC/USDT"))

	got, err = e.GetOrder(ctx, order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFilled, got.Status)
	assert.True(t, decimal.NewFromInt(3).Equal(got.ActualFilled))
}
