package leader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockexchange/internal/storage/memory"
)

func TestSingleElectorAcquiresLeadership(t *testing.T) {
	store := memory.New()
	e := New(store, nil, time.Minute, time.Second)

	assert.False(t, e.IsLeader())
	e.tryAcquireOrRefresh(context.Background())
	assert.True(t, e.IsLeader())
}

func TestSecondElectorCannotAcquireWhileHeld(t *testing.T) {
	store := memory.New()
	first := New(store, nil, time.Minute, time.Second)
	second := New(store, nil, time.Minute, time.Second)

	ctx := context.Background()
	first.tryAcquireOrRefresh(ctx)
	second.tryAcquireOrRefresh(ctx)

	assert.True(t, first.IsLeader())
	assert.False(t, second.IsLeader())
}

func TestHolderRefreshesSuccessfully(t *testing.T) {
	store := memory.New()
	e := New(store, nil, time.Minute, time.Second)
	ctx := context.Background()

	e.tryAcquireOrRefresh(ctx)
	require.True(t, e.IsLeader())

	e.tryAcquireOrRefresh(ctx)
	assert.True(t, e.IsLeader(), "the current holder must keep leadership on refresh")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := memory.New()
	e := New(store, nil, time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	assert.True(t, e.IsLeader())
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
