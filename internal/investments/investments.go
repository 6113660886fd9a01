// Package investments tracks deposit and withdrawal accounts (spec §3,
// §4.1 keys "deposits:<asset>"/"withdrawals:<asset>"), one InvestmentAccount
// per asset, valued in the configured cash asset. Supplements the spec's
// distilled feature set with the "investment account" bookkeeping the
// original Python engine keeps alongside balances.
package investments

import (
	"context"

	"github.com/shopspring/decimal"

	"mockexchange/internal/core"
	"mockexchange/internal/storage"
	"mockexchange/pkg/apperrors"
)

// Kind distinguishes deposit accounts from withdrawal accounts.
type Kind string

const (
	Deposits    Kind = "deposits"
	Withdrawals Kind = "withdrawals"
)

func accountKey(kind Kind, asset string) string { return string(kind) + ":" + asset }
func indexKey(kind Kind) string                 { return string(kind) + ":index" }

// Ledger owns the deposit/withdrawal accounts for one Kind.
type Ledger struct {
	store storage.Store
	kind  Kind
}

// New builds a Ledger of the given kind bound to store.
func New(store storage.Store, kind Kind) *Ledger {
	return &Ledger{store: store, kind: kind}
}

// Record adds quantity/refValue to asset's account, creating it if absent.
func (l *Ledger) Record(ctx context.Context, asset, refSymbol string, quantity, refValue decimal.Decimal, priceUnavailable bool) error {
	acct, err := l.Get(ctx, asset)
	if err != nil {
		return err
	}
	acct.Asset = asset
	acct.RefSymbol = refSymbol
	acct.AssetQuantity = acct.AssetQuantity.Add(quantity)
	acct.RefValue = acct.RefValue.Add(refValue)
	acct.PriceUnavailable = acct.PriceUnavailable || priceUnavailable

	err = l.store.Pipeline(ctx, func(p storage.Pipeliner) error {
		p.HSet(accountKey(l.kind, asset), "ref_symbol", acct.RefSymbol)
		p.HSet(accountKey(l.kind, asset), "asset_quantity", acct.AssetQuantity.String())
		p.HSet(accountKey(l.kind, asset), "ref_value", acct.RefValue.String())
		p.HSet(accountKey(l.kind, asset), "price_unavailable", boolString(acct.PriceUnavailable))
		p.SAdd(indexKey(l.kind), asset)
		return nil
	})
	if err != nil {
		return apperrors.WrapStorage("investments.record", err)
	}
	return nil
}

// Get returns asset's account, zero-valued if it has never been recorded.
func (l *Ledger) Get(ctx context.Context, asset string) (core.InvestmentAccount, error) {
	fields, err := l.store.HGetAll(ctx, accountKey(l.kind, asset))
	if err != nil {
		return core.InvestmentAccount{}, apperrors.WrapStorage("investments.get", err)
	}
	if len(fields) == 0 {
		return core.InvestmentAccount{Asset: asset}, nil
	}
	qty, _ := decimal.NewFromString(fields["asset_quantity"])
	refValue, _ := decimal.NewFromString(fields["ref_value"])
	return core.InvestmentAccount{
		Asset:            asset,
		RefSymbol:        fields["ref_symbol"],
		AssetQuantity:    qty,
		RefValue:         refValue,
		PriceUnavailable: fields["price_unavailable"] == "true",
	}, nil
}

// All returns every recorded account of this kind.
func (l *Ledger) All(ctx context.Context) ([]core.InvestmentAccount, error) {
	assets, err := l.store.SMembers(ctx, indexKey(l.kind))
	if err != nil {
		return nil, apperrors.WrapStorage("investments.all", err)
	}
	out := make([]core.InvestmentAccount, 0, len(assets))
	for _, asset := range assets {
		acct, err := l.Get(ctx, asset)
		if err != nil {
			continue
		}
		out = append(out, acct)
	}
	return out, nil
}

// Clear removes every account and its index.
func (l *Ledger) Clear(ctx context.Context) error {
	assets, err := l.store.SMembers(ctx, indexKey(l.kind))
	if err != nil {
		return apperrors.WrapStorage("investments.clear", err)
	}
	keys := []string{indexKey(l.kind)}
	for _, asset := range assets {
		keys = append(keys, accountKey(l.kind, asset))
	}
	if err := l.store.Unlink(ctx, keys...); err != nil {
		return apperrors.WrapStorage("investments.clear", err)
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
