package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockexchange/internal/storage"
)

func TestHashRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.HSet(ctx, "h", "f", "1"))
	val, ok, err := s.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", val)

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f": "1"}, all)

	require.NoError(t, s.HDel(ctx, "h", "f"))
	_, ok, err = s.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHIncrByFloat(t *testing.T) {
	ctx := context.Background()
	s := New()

	v, err := s.HIncrByFloat(ctx, "h", "count", 2.5)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = s.HIncrByFloat(ctx, "h", "count", 1.5)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
}

func TestSetOperations(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SAdd(ctx, "set", "a"))
	require.NoError(t, s.SAdd(ctx, "set", "b"))

	is, err := s.SIsMember(ctx, "set", "a")
	require.NoError(t, err)
	assert.True(t, is)

	members, err := s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, s.SRem(ctx, "set", "a"))
	is, err = s.SIsMember(ctx, "set", "a")
	require.NoError(t, err)
	assert.False(t, is)
}

func TestScanKeysAndUnlink(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.HSet(ctx, "sym_BTC/USDT", "price", "1"))
	require.NoError(t, s.HSet(ctx, "sym_ETH/USDT", "price", "2"))
	require.NoError(t, s.HSet(ctx, "other", "x", "1"))

	keys, err := s.ScanKeys(ctx, "sym_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sym_BTC/USDT", "sym_ETH/USDT"}, keys)

	require.NoError(t, s.Unlink(ctx, "sym_BTC/USDT"))
	keys, err = s.ScanKeys(ctx, "sym_")
	require.NoError(t, err)
	assert.Equal(t, []string{"sym_ETH/USDT"}, keys)
}

func TestPipelineAppliesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.Pipeline(ctx, func(p storage.Pipeliner) error {
		p.HSet("h", "a", "1")
		p.SAdd("set", "x")
		return nil
	})
	require.NoError(t, err)

	val, ok, err := s.HGet(ctx, "h", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", val)

	is, err := s.SIsMember(ctx, "set", "x")
	require.NoError(t, err)
	assert.True(t, is)
}

func TestSetNXAndRefresh(t *testing.T) {
	ctx := context.Background()
	s := New()

	ok, err := s.SetNX(ctx, "lock", "leader", "node-1", 60)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", "leader", "node-2", 60)
	require.NoError(t, err)
	assert.False(t, ok, "second SetNX must not win while the lock is held")

	ok, err = s.Refresh(ctx, "lock", "leader", "node-1", 60)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Refresh(ctx, "lock", "leader", "node-2", 60)
	require.NoError(t, err)
	assert.False(t, ok, "refresh must fail for a value that does not own the lock")
}
