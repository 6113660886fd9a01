// Package stats tracks per-(side, base, quote) trade counters (spec §3,
// §4.1 keys "trades:<side>:<base>:{count|amount|notional|fee}") and their
// enumeration sets, updated atomically by the Execution Engine on every
// fill.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"mockexchange/internal/core"
	"mockexchange/internal/storage"
	"mockexchange/pkg/apperrors"
)

func bucketKey(field string, key core.TradeStatsKey) string {
	return fmt.Sprintf("trades:%s:%s:%s", key.Side, key.Base, field)
}

func indexKey(field string) string { return "trades:index:" + field }

// Tracker owns the trade-stats hashes and their index sets.
type Tracker struct {
	store storage.Store
}

// New builds a Tracker bound to store.
func New(store storage.Store) *Tracker {
	return &Tracker{store: store}
}

// RecordFill increments the (side, base, quote) bucket's counters. count
// only increments when firstFill is true (the order's first execution).
func (t *Tracker) RecordFill(ctx context.Context, key core.TradeStatsKey, amount, notional, fee decimal.Decimal, firstFill bool) error {
	err := t.store.Pipeline(ctx, func(p storage.Pipeliner) error {
		if firstFill {
			p.HIncrByFloat(bucketKey("count", key), key.Quote, 1)
		}
		p.HIncrByFloat(bucketKey("amount", key), key.Quote, toFloat(amount))
		p.HIncrByFloat(bucketKey("notional", key), key.Quote, toFloat(notional))
		p.HIncrByFloat(bucketKey("fee", key), key.Quote, toFloat(fee))
		p.SAdd(indexKey("count"), bucketIndexMember(key))
		p.SAdd(indexKey("amount"), bucketIndexMember(key))
		p.SAdd(indexKey("notional"), bucketIndexMember(key))
		p.SAdd(indexKey("fee"), bucketIndexMember(key))
		return nil
	})
	if err != nil {
		return apperrors.WrapStorage("stats.record_fill", err)
	}
	return nil
}

func bucketIndexMember(key core.TradeStatsKey) string {
	return fmt.Sprintf("%s:%s:%s", key.Side, key.Base, key.Quote)
}

// Get returns the counters for one (side, base, quote) bucket.
func (t *Tracker) Get(ctx context.Context, key core.TradeStatsKey) (core.TradeStats, error) {
	count, err := t.hget(ctx, bucketKey("count", key), key.Quote)
	if err != nil {
		return core.TradeStats{}, err
	}
	amount, err := t.hgetDecimal(ctx, bucketKey("amount", key), key.Quote)
	if err != nil {
		return core.TradeStats{}, err
	}
	notional, err := t.hgetDecimal(ctx, bucketKey("notional", key), key.Quote)
	if err != nil {
		return core.TradeStats{}, err
	}
	fee, err := t.hgetDecimal(ctx, bucketKey("fee", key), key.Quote)
	if err != nil {
		return core.TradeStats{}, err
	}

	return core.TradeStats{
		Count:    int64(count),
		Amount:   amount,
		Notional: notional,
		Fee:      fee,
	}, nil
}

// List returns every recorded (side, base, quote) bucket.
func (t *Tracker) List(ctx context.Context) ([]core.TradeStatsKey, error) {
	members, err := t.store.SMembers(ctx, indexKey("amount"))
	if err != nil {
		return nil, apperrors.WrapStorage("stats.list", err)
	}
	out := make([]core.TradeStatsKey, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, ":", 3)
		if len(parts) != 3 {
			continue
		}
		out = append(out, core.TradeStatsKey{Side: core.OrderSide(parts[0]), Base: parts[1], Quote: parts[2]})
	}
	return out, nil
}

func (t *Tracker) hget(ctx context.Context, key, field string) (float64, error) {
	raw, ok, err := t.store.HGet(ctx, key, field)
	if err != nil {
		return 0, apperrors.WrapStorage("stats.get", err)
	}
	if !ok {
		return 0, nil
	}
	v, _ := strconv.ParseFloat(raw, 64)
	return v, nil
}

func (t *Tracker) hgetDecimal(ctx context.Context, key, field string) (decimal.Decimal, error) {
	raw, ok, err := t.store.HGet(ctx, key, field)
	if err != nil {
		return decimal.Zero, apperrors.WrapStorage("stats.get", err)
	}
	if !ok {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, nil
	}
	return v, nil
}

// Clear removes every trade-stats hash and its index sets.
func (t *Tracker) Clear(ctx context.Context) error {
	keys, err := t.List(ctx)
	if err != nil {
		return err
	}
	unlinkKeys := []string{indexKey("count"), indexKey("amount"), indexKey("notional"), indexKey("fee")}
	for _, k := range keys {
		unlinkKeys = append(unlinkKeys,
			bucketKey("count", k), bucketKey("amount", k), bucketKey("notional", k), bucketKey("fee", k))
	}
	if err := t.store.Unlink(ctx, unlinkKeys...); err != nil {
		return apperrors.WrapStorage("stats.clear", err)
	}
	return nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
