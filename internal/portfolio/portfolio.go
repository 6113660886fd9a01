// Package portfolio implements the Portfolio Store and Reservation Ledger
// (spec §4.3, §4.6): per-asset free/used balances with dust-clamped
// reserve/release. Grounded on the original Python engine's _reserve/
// _release helpers in engine_actors.py.
package portfolio

import (
	"context"

	"github.com/shopspring/decimal"

	"mockexchange/internal/core"
	"mockexchange/internal/storage"
	"mockexchange/pkg/apperrors"
)

const balanceKey = "portfolio"

// dustThreshold mirrors spec §3's used/free < 1e-10 elimination rule.
var dustThreshold = decimal.New(1, -10)

// Portfolio owns every asset's (free, used) balance.
type Portfolio struct {
	store storage.Store
}

// New builds a Portfolio bound to store.
func New(store storage.Store) *Portfolio {
	return &Portfolio{store: store}
}

// Get returns asset's balance, defaulting to zero if absent.
func (p *Portfolio) Get(ctx context.Context, asset string) (core.AssetBalance, error) {
	freeRaw, _, err := p.store.HGet(ctx, balanceKey, asset+":free")
	if err != nil {
		return core.AssetBalance{}, apperrors.WrapStorage("portfolio.get", err)
	}
	usedRaw, _, err := p.store.HGet(ctx, balanceKey, asset+":used")
	if err != nil {
		return core.AssetBalance{}, apperrors.WrapStorage("portfolio.get", err)
	}
	free, _ := decimal.NewFromString(freeRaw)
	used, _ := decimal.NewFromString(usedRaw)
	return core.AssetBalance{Asset: asset, Free: free, Used: used}, nil
}

// Set overwrites asset's balance atomically (used by tests/admin set_balance).
func (p *Portfolio) Set(ctx context.Context, bal core.AssetBalance) error {
	err := p.store.Pipeline(ctx, func(pl storage.Pipeliner) error {
		pl.HSet(balanceKey, bal.Asset+":free", bal.Free.String())
		pl.HSet(balanceKey, bal.Asset+":used", bal.Used.String())
		return nil
	})
	if err != nil {
		return apperrors.WrapStorage("portfolio.set", err)
	}
	return nil
}

// All returns every known asset's balance.
func (p *Portfolio) All(ctx context.Context) (map[string]core.AssetBalance, error) {
	fields, err := p.store.HGetAll(ctx, balanceKey)
	if err != nil {
		return nil, apperrors.WrapStorage("portfolio.all", err)
	}
	out := make(map[string]core.AssetBalance)
	for field, raw := range fields {
		asset, kind, ok := splitField(field)
		if !ok {
			continue
		}
		bal := out[asset]
		bal.Asset = asset
		val, _ := decimal.NewFromString(raw)
		if kind == "free" {
			bal.Free = val
		} else {
			bal.Used = val
		}
		out[asset] = bal
	}
	return out, nil
}

// Clear removes every portfolio record.
func (p *Portfolio) Clear(ctx context.Context) error {
	if err := p.store.Unlink(ctx, balanceKey); err != nil {
		return apperrors.WrapStorage("portfolio.clear", err)
	}
	return nil
}

func splitField(field string) (asset, kind string, ok bool) {
	for i := len(field) - 1; i >= 0; i-- {
		if field[i] == ':' {
			return field[:i], field[i+1:], true
		}
	}
	return "", "", false
}

// Reserve moves qty from free to used for asset. Fails with
// InsufficientFunds if free < qty.
func (p *Portfolio) Reserve(ctx context.Context, asset string, qty decimal.Decimal) error {
	bal, err := p.Get(ctx, asset)
	if err != nil {
		return err
	}
	if bal.Free.LessThan(qty) {
		return apperrors.NewInsufficientFunds(asset, qty.String(), bal.Free.String())
	}
	bal.Free = bal.Free.Sub(qty)
	bal.Used = bal.Used.Add(qty)
	return p.Set(ctx, bal)
}

// Release moves min(qty, used) from used to free for asset, then applies
// the dust-clamping rule from spec §3.
func (p *Portfolio) Release(ctx context.Context, asset string, qty decimal.Decimal) error {
	bal, err := p.Get(ctx, asset)
	if err != nil {
		return err
	}
	moved := decimal.Min(qty, bal.Used)
	bal.Used = bal.Used.Sub(moved)
	bal.Free = bal.Free.Add(moved)
	clampDust(&bal)
	return p.Set(ctx, bal)
}

// clampDust snaps Used to zero once it is negligible relative to Free,
// per spec §3's used/free < 1e-10 elimination rule.
func clampDust(bal *core.AssetBalance) {
	if bal.Used.IsZero() {
		return
	}
	if bal.Free.IsPositive() && bal.Used.Div(bal.Free).LessThan(dustThreshold) {
		bal.Used = decimal.Zero
	}
}
