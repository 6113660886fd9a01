// Package engine implements the Execution Engine (spec §4.7): order
// creation, cancellation, price-tick settlement, admin/maintenance
// operations and account overviews. It orchestrates the Market, Portfolio,
// Order Store, trade-stats and investment-account components but holds no
// durable state of its own. Grounded on the original Python engine's
// ExchangeEngineActor (engine_actors.py), reworked from Pykka actor
// messages into plain Go methods that the caller serializes through
// internal/dispatcher.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mockexchange/internal/core"
	"mockexchange/internal/dispatcher"
	"mockexchange/internal/idgen"
	"mockexchange/internal/investments"
	"mockexchange/internal/market"
	"mockexchange/internal/orders"
	"mockexchange/internal/portfolio"
	"mockexchange/internal/stats"
	"mockexchange/internal/telemetry"
	"mockexchange/pkg/apperrors"
)

// epsilon is the tolerance used for funds/reservation comparisons (spec §8).
var epsilon = decimal.New(1, -9)

// Params configures engine-wide defaults (spec §6.3).
type Params struct {
	Commission decimal.Decimal
	CashAsset  string
	MinSettle  time.Duration
	MaxSettle  time.Duration
	SigmaFill  float64
}

// Engine is the order-execution engine.
type Engine struct {
	market     *market.Market
	portfolio  *portfolio.Portfolio
	orderStore *orders.Store
	statsTrack *stats.Tracker
	deposits   *investments.Ledger
	withdrawals *investments.Ledger
	dispatcher *dispatcher.Dispatcher
	logger     core.Logger
	metrics    *telemetry.MetricsHolder
	params     Params

	timers *timerSet
}

// New builds an Engine wired to its storage-backed components.
func New(
	mkt *market.Market,
	pf *portfolio.Portfolio,
	ordStore *orders.Store,
	statsTrack *stats.Tracker,
	deposits *investments.Ledger,
	withdrawals *investments.Ledger,
	disp *dispatcher.Dispatcher,
	logger core.Logger,
	params Params,
) *Engine {
	return &Engine{
		market:      mkt,
		portfolio:   pf,
		orderStore:  ordStore,
		statsTrack:  statsTrack,
		deposits:    deposits,
		withdrawals: withdrawals,
		dispatcher:  disp,
		logger:      logger,
		metrics:     telemetry.GetGlobalMetrics(),
		params:      params,
		timers:      newTimerSet(),
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func splitSymbol(symbol string) (base, quote string, ok bool) {
	idx := strings.IndexByte(symbol, '/')
	if idx < 0 {
		return "", "", false
	}
	return symbol[:idx], symbol[idx+1:], true
}

// CreateOrder validates, reserves funds and persists a new order (spec
// §4.7). Insufficient funds does not return an error: the order is
// persisted rejected with a human-readable comment.
func (e *Engine) CreateOrder(ctx context.Context, symbol string, side core.OrderSide, typ core.OrderType, amount decimal.Decimal, limitPrice *decimal.Decimal) (*core.Order, error) {
	var result *core.Order
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		o, err := e.createOrderLocked(ctx, symbol, side, typ, amount, limitPrice)
		if err != nil {
			return err
		}
		result = o
		return nil
	})
	return result, err
}

func (e *Engine) createOrderLocked(ctx context.Context, symbol string, side core.OrderSide, typ core.OrderType, amount decimal.Decimal, limitPrice *decimal.Decimal) (*core.Order, error) {
	base, quote, ok := splitSymbol(symbol)
	if !ok {
		return nil, apperrors.NewValidation("symbol", "must be BASE/QUOTE")
	}
	if _, err := e.market.LastPrice(ctx, symbol); err != nil {
		return nil, apperrors.NewNotFound("symbol", symbol)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.NewValidation("amount", "must be > 0")
	}
	if side != core.Buy && side != core.Sell {
		return nil, apperrors.NewValidation("side", "must be buy or sell")
	}
	if typ != core.Market && typ != core.Limit {
		return nil, apperrors.NewValidation("type", "must be market or limit")
	}
	if typ == core.Limit {
		if limitPrice == nil || limitPrice.IsNegative() {
			return nil, apperrors.NewValidation("limit_price", "required and must be >= 0 for limit orders")
		}
	}

	last, err := e.market.LastPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	px := last
	if typ == core.Limit {
		if side == core.Buy {
			px = *limitPrice
		} else {
			px = decimal.Max(*limitPrice, last)
		}
	}

	notion := amount.Mul(px)
	fee := notion.Mul(e.params.Commission)

	ts := nowMillis()
	order := &core.Order{
		ID:             idgen.NewOrderID(ts / 1000),
		Symbol:         symbol,
		Side:           side,
		Type:           typ,
		Amount:         amount,
		LimitPrice:     limitPrice,
		FeeRate:        e.params.Commission,
		FeeCurrency:    quote,
		NotionCurrency: quote,
		TSCreate:       ts,
		TSUpdate:       ts,
	}

	var insufficientReason string
	switch side {
	case core.Buy:
		need := notion.Add(fee)
		bal, err := e.portfolio.Get(ctx, quote)
		if err != nil {
			return nil, err
		}
		if bal.Free.LessThan(need) {
			insufficientReason = fmt.Sprintf("need %s %s, have %s", need.String(), quote, bal.Free.String())
		} else {
			if err := e.portfolio.Reserve(ctx, quote, need); err != nil {
				return nil, err
			}
			order.InitialBookedNotion = notion
			order.InitialBookedFee = fee
			order.ReservedNotionLeft = notion
			order.ReservedFeeLeft = fee
		}
	case core.Sell:
		bal, err := e.portfolio.Get(ctx, base)
		if err != nil {
			return nil, err
		}
		feeBal, err := e.portfolio.Get(ctx, quote)
		if err != nil {
			return nil, err
		}
		if bal.Free.LessThan(amount) {
			insufficientReason = fmt.Sprintf("need %s %s, have %s", amount.String(), base, bal.Free.String())
		} else if feeBal.Free.LessThan(fee) {
			insufficientReason = fmt.Sprintf("need %s %s fee, have %s", fee.String(), quote, feeBal.Free.String())
		} else {
			if err := e.portfolio.Reserve(ctx, base, amount); err != nil {
				return nil, err
			}
			if err := e.portfolio.Reserve(ctx, quote, fee); err != nil {
				return nil, err
			}
			order.InitialBookedNotion = decimal.Zero
			order.InitialBookedFee = fee
			order.ReservedNotionLeft = decimal.Zero
			order.ReservedFeeLeft = fee
		}
	}

	if insufficientReason != "" {
		order.AppendHistory(ts, core.StatusRejected, "insufficient funds: "+insufficientReason, nil)
		if err := e.orderStore.Add(ctx, order); err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.IncOrdersRejected(ctx)
		}
		return order, nil
	}

	order.AppendHistory(ts, core.StatusNew, "", nil)
	if err := e.orderStore.Add(ctx, order); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.IncOrdersCreated(ctx)
	}

	if typ == core.Market {
		delay := randomDuration(e.params.MinSettle, e.params.MaxSettle)
		id := order.ID
		timer := e.dispatcher.ScheduleAfter(context.Background(), delay, func(ctx context.Context) error {
			return e.settleMarketOrder(ctx, id)
		})
		e.timers.add(id, timer)
	}

	return order, nil
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// settleMarketOrder re-reads the order and, if still open, runs it through
// the same fill path as a price tick (spec §4.8).
func (e *Engine) settleMarketOrder(ctx context.Context, id string) error {
	order, err := e.orderStore.Get(ctx, id)
	if err != nil {
		return nil
	}
	if !order.Status.IsOpen() {
		return nil
	}
	pair, err := e.market.FetchTicker(ctx, order.Symbol)
	if err != nil || pair == nil {
		return nil
	}
	return e.processSingleOrder(ctx, order, *pair)
}

// CancelOrder releases an open order's residual reservation and closes it
// (spec §4.7).
func (e *Engine) CancelOrder(ctx context.Context, id string) (*core.Order, decimal.Decimal, decimal.Decimal, error) {
	var order *core.Order
	var freedBase, freedQuote decimal.Decimal
	err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		o, fb, fq, err := e.cancelOrderLocked(ctx, id)
		if err != nil {
			return err
		}
		order, freedBase, freedQuote = o, fb, fq
		return nil
	})
	return order, freedBase, freedQuote, err
}

func (e *Engine) cancelOrderLocked(ctx context.Context, id string) (*core.Order, decimal.Decimal, decimal.Decimal, error) {
	order, err := e.orderStore.Get(ctx, id)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}
	if !order.Status.IsOpen() {
		return nil, decimal.Zero, decimal.Zero, apperrors.NewInvalidState("cancel_order", "order is not open")
	}

	base, quote, _ := splitSymbol(order.Symbol)

	freedQuote := order.ResidualQuote()
	freedBase := decimal.Zero
	if !freedQuote.IsZero() {
		if err := e.portfolio.Release(ctx, quote, freedQuote); err != nil {
			return nil, decimal.Zero, decimal.Zero, err
		}
	}
	if order.Side == core.Sell {
		freedBase = order.ResidualBase()
		if !freedBase.IsZero() {
			if err := e.portfolio.Release(ctx, base, freedBase); err != nil {
				return nil, decimal.Zero, decimal.Zero, err
			}
		}
	}

	status := core.StatusCanceled
	if order.ActualFilled.IsPositive() {
		status = core.StatusPartiallyCanceled
	}

	order.Squash()
	ts := nowMillis()
	order.AppendHistory(ts, status, "", nil)
	if err := e.orderStore.RemoveFromIndexes(ctx, order.ID, order.Symbol); err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}
	if err := e.orderStore.Update(ctx, order); err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}
	e.timers.cancel(order.ID)
	if e.metrics != nil {
		e.metrics.IncOrdersCanceled(ctx)
	}

	return order, freedBase, freedQuote, nil
}

// ProcessPriceTick reads the market snapshot once and settles every open
// order for symbol against it (spec §4.7).
func (e *Engine) ProcessPriceTick(ctx context.Context, symbol string) error {
	start := time.Now()
	if e.metrics != nil {
		defer func() {
			e.metrics.ObserveTickLatency(ctx, float64(time.Since(start).Microseconds())/1000)
		}()
	}
	return e.dispatcher.Do(ctx, func(ctx context.Context) error {
		pair, err := e.market.FetchTicker(ctx, symbol)
		if err != nil {
			return err
		}
		if pair == nil {
			return nil
		}
		open, err := e.orderStore.List(ctx, orders.ListFilter{
			Statuses: []core.OrderStatus{core.StatusNew, core.StatusPartiallyFilled},
			Symbol:   symbol,
		})
		if err != nil {
			return err
		}
		for _, o := range open {
			if err := e.processSingleOrder(ctx, o, *pair); err != nil && e.logger != nil {
				e.logger.Error("process_single_order failed", "order", o.ID, "error", err)
			}
		}
		return nil
	})
}

// processSingleOrder executes at most one fill step of order against pair,
// implementing spec §4.7's slippage, limit-crossing and mid-execution
// reservation checks. Must be called with the dispatcher's single-writer
// guarantee already held.
func (e *Engine) processSingleOrder(ctx context.Context, order *core.Order, pair core.TradingPair) error {
	fresh, err := e.orderStore.Get(ctx, order.ID)
	if err != nil {
		return nil
	}
	order = fresh
	if !order.Status.IsOpen() {
		return nil
	}

	need := order.AmountRemain()
	if need.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	base, quote, _ := splitSymbol(order.Symbol)

	var volume decimal.Decimal
	if order.Side == core.Buy {
		volume = pair.AskVolume
	} else {
		volume = pair.BidVolume
	}
	avail := slip(volume, e.params.SigmaFill)
	if avail.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	fillable := decimal.Min(avail, need)
	closing := fillable.Equal(need)

	if order.Type == core.Limit {
		if order.Side == core.Buy && pair.Ask.GreaterThan(*order.LimitPrice) {
			return nil
		}
		if order.Side == core.Sell && pair.Bid.LessThan(*order.LimitPrice) {
			return nil
		}
	}

	var px decimal.Decimal
	if order.Side == core.Buy {
		px = pair.Ask
	} else {
		px = pair.Bid
	}

	filledNotion := fillable.Mul(px)
	filledFee := filledNotion.Mul(order.FeeRate)
	wasNew := order.ActualFilled.IsZero()

	switch order.Side {
	case core.Buy:
		needQuote := fillable.Mul(px).Mul(decimal.NewFromInt(1).Add(order.FeeRate))
		bal, err := e.portfolio.Get(ctx, quote)
		if err != nil {
			return err
		}
		if bal.Total().Add(epsilon).LessThan(needQuote) {
			return e.rejectMidFill(ctx, order, "insufficient quote reserve at fill time")
		}
		releaseAmt := filledNotion.Add(filledFee)
		if closing {
			releaseAmt = order.ResidualQuote()
		}
		if err := e.portfolio.Release(ctx, quote, releaseAmt); err != nil {
			return err
		}
		if err := e.debit(ctx, quote, filledNotion.Add(filledFee)); err != nil {
			return err
		}
		if err := e.credit(ctx, base, fillable); err != nil {
			return err
		}
	case core.Sell:
		bal, err := e.portfolio.Get(ctx, base)
		if err != nil {
			return err
		}
		feeBal, err := e.portfolio.Get(ctx, quote)
		if err != nil {
			return err
		}
		if bal.Total().Add(epsilon).LessThan(fillable) || feeBal.Total().Add(epsilon).LessThan(filledFee) {
			return e.rejectMidFill(ctx, order, "insufficient base/fee reserve at fill time")
		}
		if err := e.portfolio.Release(ctx, base, fillable); err != nil {
			return err
		}
		if err := e.debit(ctx, base, fillable); err != nil {
			return err
		}
		feeRelease := filledFee
		if closing {
			feeRelease = order.ResidualQuote()
		}
		if err := e.portfolio.Release(ctx, quote, feeRelease); err != nil {
			return err
		}
		if err := e.credit(ctx, quote, filledNotion.Sub(filledFee)); err != nil {
			return err
		}
	}

	totalFilled := order.ActualFilled.Add(fillable)
	totalNotion := order.ActualNotion.Add(filledNotion)
	totalFee := order.ActualFee.Add(filledFee)

	order.ActualFilled = totalFilled
	order.ActualNotion = totalNotion
	order.ActualFee = totalFee
	if totalFilled.IsPositive() {
		order.Price = totalNotion.Div(totalFilled)
	}
	order.ReservedNotionLeft = decimal.Max(decimal.Zero, order.ReservedNotionLeft.Sub(filledNotion))
	order.ReservedFeeLeft = decimal.Max(decimal.Zero, order.ReservedFeeLeft.Sub(filledFee))

	ts := nowMillis()
	fill := &core.FillDetail{Price: px, Amount: fillable, Notion: filledNotion, Fee: filledFee}

	status := core.StatusPartiallyFilled
	if closing {
		status = core.StatusFilled
		order.Squash()
		e.timers.cancel(order.ID)
		if err := e.orderStore.RemoveFromIndexes(ctx, order.ID, order.Symbol); err != nil {
			return err
		}
	}
	order.AppendHistory(ts, status, "", fill)
	if err := e.orderStore.Update(ctx, order); err != nil {
		return err
	}

	key := core.TradeStatsKey{Side: order.Side, Base: base, Quote: quote}
	if err := e.statsTrack.RecordFill(ctx, key, fillable, filledNotion, filledFee, wasNew); err != nil {
		return err
	}

	if e.metrics != nil && closing {
		e.metrics.IncOrdersFilled(ctx)
	}

	return nil
}

func (e *Engine) rejectMidFill(ctx context.Context, order *core.Order, reason string) error {
	base, quote, _ := splitSymbol(order.Symbol)
	if !order.ReservedNotionLeft.Add(order.ReservedFeeLeft).IsZero() {
		_ = e.portfolio.Release(ctx, quote, order.ResidualQuote())
	}
	if order.Side == core.Sell && !order.ResidualBase().IsZero() {
		_ = e.portfolio.Release(ctx, base, order.ResidualBase())
	}

	status := core.StatusRejected
	if order.ActualFilled.IsPositive() {
		status = core.StatusPartiallyRejected
	}
	order.Squash()
	ts := nowMillis()
	order.AppendHistory(ts, status, reason, nil)
	e.timers.cancel(order.ID)
	if err := e.orderStore.RemoveFromIndexes(ctx, order.ID, order.Symbol); err != nil {
		return err
	}
	if err := e.orderStore.Update(ctx, order); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.IncOrdersRejected(ctx)
	}
	return nil
}

func (e *Engine) debit(ctx context.Context, asset string, qty decimal.Decimal) error {
	bal, err := e.portfolio.Get(ctx, asset)
	if err != nil {
		return err
	}
	bal.Free = bal.Free.Sub(qty)
	return e.portfolio.Set(ctx, bal)
}

func (e *Engine) credit(ctx context.Context, asset string, qty decimal.Decimal) error {
	bal, err := e.portfolio.Get(ctx, asset)
	if err != nil {
		return err
	}
	bal.Free = bal.Free.Add(qty)
	return e.portfolio.Set(ctx, bal)
}

// slip implements spec §4.7's volume-based slippage model:
// slip(v, sigma) = v * clamp(Normal(1, sigma), 0, 1), grounded on the
// original Python engine's _filled_amount.
func slip(v decimal.Decimal, sigma float64) decimal.Decimal {
	sample := rand.NormFloat64()*sigma + 1.0
	if sample < 0 {
		sample = 0
	}
	if sample > 1 {
		sample = 1
	}
	f, _ := v.Float64()
	return decimal.NewFromFloat(f * sample)
}
