// Package orders implements the Order Store (spec §4.4): order records
// plus the open-id indexes that keep list() queries over open orders
// constant-time. Grounded directly on the original Python engine's
// orderbook.py (HASH_KEY/OPEN_ALL_KEY/OPEN_SYM_KEY index maintenance).
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"mockexchange/internal/core"
	"mockexchange/pkg/apperrors"
	"mockexchange/internal/storage"
)

const (
	hashKey    = "orders"
	openAllKey = "open:set"
)

func openSymKey(symbol string) string { return "open:" + symbol }

// Store owns order records and their open-id indexes.
type Store struct {
	store storage.Store
}

// New builds an order Store bound to store.
func New(store storage.Store) *Store {
	return &Store{store: store}
}

// Add writes order, and if it is OPEN, inserts it into both open indexes.
func (s *Store) Add(ctx context.Context, order *core.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return apperrors.WrapStorage("orders.add", err)
	}
	err = s.store.Pipeline(ctx, func(p storage.Pipeliner) error {
		p.HSet(hashKey, order.ID, string(data))
		if order.Status.IsOpen() {
			p.SAdd(openAllKey, order.ID)
			p.SAdd(openSymKey(order.Symbol), order.ID)
		}
		return nil
	})
	if err != nil {
		return apperrors.WrapStorage("orders.add", err)
	}
	return nil
}

// Update writes order's current record, embedded history included. It does
// NOT touch the open indexes; callers transitioning an order to CLOSED must
// call RemoveFromIndexes themselves (spec §4.4).
func (s *Store) Update(ctx context.Context, order *core.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return apperrors.WrapStorage("orders.update", err)
	}
	if err := s.store.HSet(ctx, hashKey, order.ID, string(data)); err != nil {
		return apperrors.WrapStorage("orders.update", err)
	}
	return nil
}

// RemoveFromIndexes removes id from both open indexes; idempotent.
func (s *Store) RemoveFromIndexes(ctx context.Context, id, symbol string) error {
	err := s.store.Pipeline(ctx, func(p storage.Pipeliner) error {
		p.SRem(openAllKey, id)
		p.SRem(openSymKey(symbol), id)
		return nil
	})
	if err != nil {
		return apperrors.WrapStorage("orders.remove_from_indexes", err)
	}
	return nil
}

// AddToIndexes inserts id into both open indexes. No transition of the
// normal state machine moves an order back into OPEN, and nothing in the
// engine or the consistency audit calls it.
func (s *Store) AddToIndexes(ctx context.Context, id, symbol string) error {
	err := s.store.Pipeline(ctx, func(p storage.Pipeliner) error {
		p.SAdd(openAllKey, id)
		p.SAdd(openSymKey(symbol), id)
		return nil
	})
	if err != nil {
		return apperrors.WrapStorage("orders.add_to_indexes", err)
	}
	return nil
}

// Get returns the order with id, or NotFound.
func (s *Store) Get(ctx context.Context, id string) (*core.Order, error) {
	raw, ok, err := s.store.HGet(ctx, hashKey, id)
	if err != nil {
		return nil, apperrors.WrapStorage("orders.get", err)
	}
	if !ok {
		return nil, apperrors.NewNotFound("order", id)
	}
	var order core.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, apperrors.WrapStorage("orders.get", err)
	}
	return &order, nil
}

// ListFilter narrows List's result set.
type ListFilter struct {
	Statuses       []core.OrderStatus
	Symbol         string
	Side           core.OrderSide
	HasSide        bool
	Tail           int
	IncludeHistory bool
}

// List returns orders matching filter, sorted by ts_update descending.
// When every requested status is OPEN, the open-id indexes are used
// instead of a full hash scan (spec §4.4) and only the side filter is
// applied to what they hold; the stored status is not re-checked, so an
// id still in the indexes is returned whatever its recorded status.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*core.Order, error) {
	var ids []string
	var err error

	if len(filter.Statuses) > 0 && allOpen(filter.Statuses) {
		ids, err = s.openIDs(ctx, filter.Symbol)
		if err != nil {
			return nil, err
		}
	}

	var result []*core.Order
	if ids != nil {
		for _, id := range ids {
			order, err := s.Get(ctx, id)
			if err != nil {
				continue
			}
			if !filter.HasSide || order.Side == filter.Side {
				result = append(result, order)
			}
		}
	} else {
		all, err := s.store.HGetAll(ctx, hashKey)
		if err != nil {
			return nil, apperrors.WrapStorage("orders.list", err)
		}
		for _, raw := range all {
			var order core.Order
			if err := json.Unmarshal([]byte(raw), &order); err != nil {
				continue
			}
			if matches(&order, filter) {
				result = append(result, &order)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].TSUpdate > result[j].TSUpdate })

	if !filter.IncludeHistory {
		for _, o := range result {
			o.History = nil
		}
	}

	if filter.Tail > 0 && len(result) > filter.Tail {
		result = result[:filter.Tail]
	}

	return result, nil
}

func (s *Store) openIDs(ctx context.Context, symbol string) ([]string, error) {
	if symbol != "" {
		ids, err := s.store.SMembers(ctx, openSymKey(symbol))
		if err != nil {
			return nil, apperrors.WrapStorage("orders.list", err)
		}
		return ids, nil
	}
	ids, err := s.store.SMembers(ctx, openAllKey)
	if err != nil {
		return nil, apperrors.WrapStorage("orders.list", err)
	}
	return ids, nil
}

func allOpen(statuses []core.OrderStatus) bool {
	for _, st := range statuses {
		if !st.IsOpen() {
			return false
		}
	}
	return true
}

func matches(o *core.Order, filter ListFilter) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if o.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Symbol != "" && o.Symbol != filter.Symbol {
		return false
	}
	if filter.HasSide && o.Side != filter.Side {
		return false
	}
	return true
}

// Remove deletes order id's record, and if it was open, removes it from
// the indexes. Idempotent.
func (s *Store) Remove(ctx context.Context, id string) error {
	order, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if order.Status.IsOpen() {
		if err := s.RemoveFromIndexes(ctx, id, order.Symbol); err != nil {
			return err
		}
	}
	if err := s.store.HDel(ctx, hashKey, id); err != nil {
		return apperrors.WrapStorage("orders.remove", err)
	}
	return nil
}

// Clear deletes the order hash and all open-index sets.
func (s *Store) Clear(ctx context.Context) error {
	symbols, err := s.openSymbols(ctx)
	if err != nil {
		return err
	}
	keys := []string{hashKey, openAllKey}
	for _, sym := range symbols {
		keys = append(keys, openSymKey(sym))
	}
	if err := s.store.Unlink(ctx, keys...); err != nil {
		return apperrors.WrapStorage("orders.clear", err)
	}
	return nil
}

func (s *Store) openSymbols(ctx context.Context) ([]string, error) {
	ids, err := s.store.SMembers(ctx, openAllKey)
	if err != nil {
		return nil, apperrors.WrapStorage("orders.clear", err)
	}
	seen := make(map[string]struct{})
	for _, id := range ids {
		order, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		seen[order.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	return out, nil
}
