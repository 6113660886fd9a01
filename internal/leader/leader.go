// Package leader implements the leader-election lock described in spec §5:
// a SET-if-absent-with-TTL on the "engine:leader" key, refreshed by the
// holder, so that in a multi-instance deployment only one process runs the
// control loops while every instance may still serve client commands.
package leader

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mockexchange/internal/core"
	"mockexchange/internal/storage"
)

const (
	lockKey   = "engine:leader"
	lockField = "holder"
)

// Elector holds (or attempts to hold) the engine leadership lock.
type Elector struct {
	store          storage.Store
	logger         core.Logger
	id             string
	ttl            time.Duration
	refreshPeriod  time.Duration

	mu       chan struct{} // 1-buffered binary semaphore guarding isLeader
	isLeader bool
}

// New builds an Elector with a random instance id.
func New(store storage.Store, logger core.Logger, ttl, refreshPeriod time.Duration) *Elector {
	return &Elector{
		store:         store,
		logger:        logger,
		id:            uuid.NewString(),
		ttl:           ttl,
		refreshPeriod: refreshPeriod,
		mu:            make(chan struct{}, 1),
	}
}

// IsLeader reports whether this instance currently holds the lock.
func (e *Elector) IsLeader() bool {
	e.mu <- struct{}{}
	defer func() { <-e.mu }()
	return e.isLeader
}

func (e *Elector) setLeader(v bool) {
	e.mu <- struct{}{}
	changed := e.isLeader != v
	e.isLeader = v
	<-e.mu
	if changed && e.logger != nil {
		if v {
			e.logger.Info("acquired leadership", "instance", e.id)
		} else {
			e.logger.Warn("lost leadership", "instance", e.id)
		}
	}
}

// Run attempts to acquire and refresh the lock until ctx is canceled.
func (e *Elector) Run(ctx context.Context) {
	ticker := time.NewTicker(e.refreshPeriod)
	defer ticker.Stop()

	e.tryAcquireOrRefresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tryAcquireOrRefresh(ctx)
		}
	}
}

func (e *Elector) tryAcquireOrRefresh(ctx context.Context) {
	ttlSeconds := int64(e.ttl.Seconds())

	if e.IsLeader() {
		ok, err := e.store.Refresh(ctx, lockKey, lockField, e.id, ttlSeconds)
		if err != nil {
			if e.logger != nil {
				e.logger.Error("leader lock refresh failed", "error", err)
			}
			return
		}
		e.setLeader(ok)
		return
	}

	won, err := e.store.SetNX(ctx, lockKey, lockField, e.id, ttlSeconds)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("leader lock acquire failed", "error", err)
		}
		return
	}
	e.setLeader(won)
}
