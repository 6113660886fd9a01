package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockexchange/internal/core"
)

func TestGetSummaryAssetsValuesNonCashAtLastPrice(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "BTC", decimal.NewFromInt(2), decimal.Zero)
	require.NoError(t, err)
	_, err = e.SetBalance(ctx, "USDT", decimal.NewFromInt(500), decimal.Zero)
	require.NoError(t, err)

	summary, err := e.GetSummaryAssets(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(700).Equal(summary.TotalFreeValue), "2 BTC @ 100 + 500 USDT cash = 700")
	assert.False(t, summary.Mismatch)
}

func TestGetSummaryCapitalTracksProfitLoss(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")

	_, err := e.DepositAsset(ctx, "USDT", decimal.NewFromInt(1000))
	require.NoError(t, err)

	summary, err := e.GetSummaryCapital(ctx, true)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(summary.Deposits))
	assert.True(t, summary.ProfitLoss.IsZero(), "equity equals deposits with no trading activity, so P/L is zero")
}

func TestGetSummaryCapitalPerAssetSplitsDepositsFromWithdrawals(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")

	_, err := e.DepositAsset(ctx, "USDT", decimal.NewFromInt(1000))
	require.NoError(t, err)
	_, err = e.WithdrawAsset(ctx, "USDT", decimal.NewFromInt(200))
	require.NoError(t, err)

	summary, err := e.GetSummaryCapital(ctx, false)
	require.NoError(t, err)

	require.Contains(t, summary.PerAssetDeposits, "USDT")
	assert.True(t, decimal.NewFromInt(1000).Equal(summary.PerAssetDeposits["USDT"].RefValue))

	require.Contains(t, summary.PerAssetWithdrawals, "USDT")
	assert.True(t, decimal.NewFromInt(200).Equal(summary.PerAssetWithdrawals["USDT"].RefValue))
}

func TestGetTradeStatsFiltersBySideAndAsset(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(1), ptr("100"))
	require.NoError(t, err)
	require.NoError(t, e.ProcessPriceTick(ctx, "BTC/USDT"))

	got, err := e.GetOrder(ctx, order.ID, false)
	require.NoError(t, err)
	require.Equal(t, core.StatusFilled, got.Status)

	result, err := e.GetTradeStats(ctx, core.Buy, true, nil)
	require.NoError(t, err)
	require.Contains(t, result.Buy, "BTC")
	assert.Equal(t, int64(1), result.Buy["BTC"].Count)
	assert.Empty(t, result.Sell)
}
