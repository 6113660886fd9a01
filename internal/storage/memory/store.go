// Package memory is a mutex-guarded in-memory implementation of
// storage.Store, grounded on the teacher's engine/simple store_memory.go
// (a trivial map-backed store used for tests and single-process demos).
package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"mockexchange/internal/storage"
)

type lockEntry struct {
	value     string
	expiresAt time.Time
}

// Store is an in-process Store backed by plain Go maps.
type Store struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	locks  map[string]lockEntry
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
		locks:  make(map[string]lockEntry),
	}
}

func (s *Store) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (s *Store) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hsetLocked(key, field, value)
	return nil
}

func (s *Store) hsetLocked(key, field, value string) {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) HDel(_ context.Context, key, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hdelLocked(key, field)
	return nil
}

func (s *Store) hdelLocked(key, field string) {
	if h, ok := s.hashes[key]; ok {
		delete(h, field)
	}
}

func (s *Store) HIncrByFloat(_ context.Context, key, field string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hincrLocked(key, field, delta), nil
}

func (s *Store) hincrLocked(key, field string, delta float64) float64 {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	cur, _ := strconv.ParseFloat(h[field], 64)
	next := cur + delta
	h[field] = strconv.FormatFloat(next, 'f', -1, 64)
	return next
}

func (s *Store) SAdd(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saddLocked(key, member)
	return nil
}

func (s *Store) saddLocked(key, member string) {
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
}

func (s *Store) SRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sremLocked(key, member)
	return nil
}

func (s *Store) sremLocked(key, member string) {
	if set, ok := s.sets[key]; ok {
		delete(set, member)
	}
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) SIsMember(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *Store) ScanKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.hashes {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	for k := range s.sets {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) Unlink(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.hashes, k)
		delete(s.sets, k)
	}
	return nil
}

type op struct {
	kind   string
	key    string
	field  string
	value  string
	delta  float64
}

type pipeliner struct {
	ops []op
}

func (p *pipeliner) HSet(key, field, value string)         { p.ops = append(p.ops, op{kind: "hset", key: key, field: field, value: value}) }
func (p *pipeliner) HDel(key, field string)                { p.ops = append(p.ops, op{kind: "hdel", key: key, field: field}) }
func (p *pipeliner) HIncrByFloat(key, field string, d float64) {
	p.ops = append(p.ops, op{kind: "hincr", key: key, field: field, delta: d})
}
func (p *pipeliner) SAdd(key, member string) { p.ops = append(p.ops, op{kind: "sadd", key: key, field: member}) }
func (p *pipeliner) SRem(key, member string) { p.ops = append(p.ops, op{kind: "srem", key: key, field: member}) }

// Pipeline queues fn's operations, then applies them all while holding the
// store's single lock so the batch behaves atomically with respect to any
// other Store method.
func (s *Store) Pipeline(_ context.Context, fn func(p storage.Pipeliner) error) error {
	p := &pipeliner{}
	if err := fn(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range p.ops {
		switch o.kind {
		case "hset":
			s.hsetLocked(o.key, o.field, o.value)
		case "hdel":
			s.hdelLocked(o.key, o.field)
		case "hincr":
			s.hincrLocked(o.key, o.field, o.delta)
		case "sadd":
			s.saddLocked(o.key, o.field)
		case "srem":
			s.sremLocked(o.key, o.field)
		}
	}
	return nil
}

func (s *Store) SetNX(_ context.Context, key, field, value string, ttlSeconds int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lockKey := key + "|" + field
	now := time.Now()
	if existing, ok := s.locks[lockKey]; ok && existing.expiresAt.After(now) {
		return false, nil
	}
	s.locks[lockKey] = lockEntry{value: value, expiresAt: now.Add(time.Duration(ttlSeconds) * time.Second)}
	return true, nil
}

func (s *Store) Refresh(_ context.Context, key, field, value string, ttlSeconds int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lockKey := key + "|" + field
	now := time.Now()
	existing, ok := s.locks[lockKey]
	if !ok || existing.value != value || existing.expiresAt.Before(now) {
		return false, nil
	}
	existing.expiresAt = now.Add(time.Duration(ttlSeconds) * time.Second)
	s.locks[lockKey] = existing
	return true, nil
}

func (s *Store) Close() error { return nil }

var _ storage.Store = (*Store)(nil)
