package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockexchange/internal/core"
	"mockexchange/internal/dispatcher"
	"mockexchange/internal/investments"
	"mockexchange/internal/market"
	"mockexchange/internal/orders"
	"mockexchange/internal/portfolio"
	"mockexchange/internal/stats"
	"mockexchange/internal/storage/memory"
)

// newTestEngine builds an Engine over a fresh in-memory store with
// deterministic fills: SigmaFill=0 makes slip() return exactly the
// available volume, and MinSettle=0, MaxSettle=1ms makes market orders
// settle within a millisecond of creation.
func newTestEngine(t *testing.T, commission string) *Engine {
	t.Helper()
	store := memory.New()
	mkt := market.New(store, nil)
	pf := portfolio.New(store)
	ordStore := orders.New(store)
	statsTrack := stats.New(store)
	deposits := investments.New(store, investments.Deposits)
	withdrawals := investments.New(store, investments.Withdrawals)
	disp := dispatcher.New(dispatcher.Config{}, nil)
	t.Cleanup(disp.Stop)

	params := Params{
		Commission: decimal.RequireFromString(commission),
		CashAsset:  "USDT",
		MinSettle:  0,
		MaxSettle:  time.Millisecond,
		SigmaFill:  0,
	}
	return New(mkt, pf, ordStore, statsTrack, deposits, withdrawals, disp, nil, params)
}

func seedTicker(t *testing.T, e *Engine, symbol, price string) {
	t.Helper()
	ctx := context.Background()
	px := decimal.RequireFromString(price)
	vol := decimal.NewFromInt(1_000_000)
	_, err := e.SetTicker(ctx, symbol, px, &vol, &vol)
	require.NoError(t, err)
}

func TestSetTickerDefaultsVolumeToNotionOverPrice(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")

	pair, err := e.SetTicker(ctx, "BTC/USDT", decimal.NewFromInt(50_000), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, pair)
	want := notionForVolume.Div(decimal.NewFromInt(50_000))
	assert.True(t, want.Equal(pair.BidVolume), "bid volume should default to notionForVolume/price")
	assert.True(t, want.Equal(pair.AskVolume), "ask volume should default to notionForVolume/price")
}

func TestSetTickerDefaultsVolumeToZeroForNonPositivePrice(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")

	pair, err := e.SetTicker(ctx, "BTC/USDT", decimal.Zero, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.True(t, pair.BidVolume.IsZero())
	assert.True(t, pair.AskVolume.IsZero())
}

func TestCreateOrderRejectsInvalidSymbol(t *testing.T) {
	e := newTestEngine(t, "0")
	_, err := e.CreateOrder(context.Background(), "BTCUSDT", core.Buy, core.Market, decimal.NewFromInt(1), nil)
	require.Error(t, err)
}

func TestCreateOrderRejectsUnknownSymbol(t *testing.T) {
	e := newTestEngine(t, "0")
	_, err := e.CreateOrder(context.Background(), "BTC/USDT", core.Buy, core.Market, decimal.NewFromInt(1), nil)
	require.Error(t, err)
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.CreateOrder(context.Background(), "BTC/USDT", core.Buy, core.Market, decimal.Zero, nil)
	require.Error(t, err)
}

func TestCreateOrderLimitRequiresPrice(t *testing.T) {
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.CreateOrder(context.Background(), "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(1), nil)
	require.Error(t, err)
}

func TestCreateBuyOrderReservesQuote(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(2), ptr("100"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusNew, order.Status)

	bal, err := e.FetchBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("800").Equal(bal["USDT"].Free))
	assert.True(t, decimal.RequireFromString("200").Equal(bal["USDT"].Used))
}

func TestCreateOrderInsufficientFundsIsRejectedNotErrored(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(100), ptr("100"))
	require.NoError(t, err, "insufficient funds must not be a Go error")
	assert.Equal(t, core.StatusRejected, order.Status)
	assert.Contains(t, order.Comment, "insufficient funds")
}

func TestCreateSellOrderReservesBaseAndFee(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0.01")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "BTC", decimal.NewFromInt(5), decimal.Zero)
	require.NoError(t, err)
	_, err = e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Sell, core.Limit, decimal.NewFromInt(2), ptr("100"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusNew, order.Status)

	bal, err := e.FetchBalance(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3).Equal(bal["BTC"].Free))
	assert.True(t, decimal.NewFromInt(2).Equal(bal["BTC"].Used))
}

func TestCancelOrderReleasesResidual(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(2), ptr("90"))
	require.NoError(t, err)

	canceled, _, freedQuote, err := e.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCanceled, canceled.Status)
	assert.True(t, decimal.RequireFromString("180").Equal(freedQuote))

	bal, err := e.FetchBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(bal["USDT"].Free))
	assert.True(t, bal["USDT"].Used.IsZero())
}

func TestCancelOrderRejectsClosedOrder(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(1), ptr("100"))
	require.NoError(t, err)
	_, _, _, err = e.CancelOrder(ctx, order.ID)
	require.NoError(t, err)

	_, _, _, err = e.CancelOrder(ctx, order.ID)
	require.Error(t, err)
}

func TestProcessPriceTickFillsCrossingLimitOrder(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(2), ptr("100"))
	require.NoError(t, err)

	require.NoError(t, e.ProcessPriceTick(ctx, "BTC/USDT"))

	got, err := e.GetOrder(ctx, order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFilled, got.Status)
	assert.True(t, decimal.NewFromInt(2).Equal(got.ActualFilled))

	bal, err := e.FetchBalance(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2).Equal(bal["BTC"].Free))
}

func TestProcessPriceTickDoesNotCrossNonMatchingLimit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(1), ptr("50"))
	require.NoError(t, err)

	require.NoError(t, e.ProcessPriceTick(ctx, "BTC/USDT"))

	got, err := e.GetOrder(ctx, order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, core.StatusNew, got.Status, "a buy limit below the current ask must not fill")
}

func TestMarketOrderSettlesViaScheduledTimer(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Market, decimal.NewFromInt(1), nil)
	require.NoError(t, err)
	assert.Equal(t, core.StatusNew, order.Status)

	require.Eventually(t, func() bool {
		got, err := e.GetOrder(ctx, order.ID, false)
		return err == nil && got.Status == core.StatusFilled
	}, time.Second, 5*time.Millisecond)
}

func TestCheckConsistencyDetectsNoMismatchOnHealthyState(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	_, err = e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(1), ptr("90"))
	require.NoError(t, err)

	mismatches, err := e.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestPruneOrdersOlderThanRemovesOnlyOldClosedOrders(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(1), ptr("100"))
	require.NoError(t, err)
	_, _, _, err = e.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	removed, err := e.PruneOrdersOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = e.GetOrder(ctx, order.ID, false)
	assert.Error(t, err)
}

func TestExpireOrdersOlderThanReleasesReservation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	order, err := e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(1), ptr("90"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	expired, err := e.ExpireOrdersOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := e.GetOrder(ctx, order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExpired, got.Status)

	bal, err := e.FetchBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(bal["USDT"].Free))
}

func TestDepositAndWithdrawAsset(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")

	bal, err := e.DepositAsset(ctx, "USDT", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(500).Equal(bal.Free))

	bal, err = e.WithdrawAsset(ctx, "USDT", decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(300).Equal(bal.Free))

	_, err = e.WithdrawAsset(ctx, "USDT", decimal.NewFromInt(1000))
	require.Error(t, err)
}

func TestCanExecuteDryRunDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	result, err := e.CanExecute(ctx, "BTC/USDT", core.Buy, decimal.NewFromInt(5), nil)
	require.NoError(t, err)
	assert.True(t, result.OK)

	bal, err := e.FetchBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(bal["USDT"].Free), "CanExecute must not reserve anything")
}

func TestResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "0")
	seedTicker(t, e, "BTC/USDT", "100")
	_, err := e.SetBalance(ctx, "USDT", decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)
	_, err = e.CreateOrder(ctx, "BTC/USDT", core.Buy, core.Limit, decimal.NewFromInt(1), ptr("90"))
	require.NoError(t, err)

	require.NoError(t, e.Reset(ctx))

	orders, err := e.ListOrders(ctx, ListOrdersFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)

	bal, err := e.FetchBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, bal["USDT"].Free.IsZero())
}

func ptr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
