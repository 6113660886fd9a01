package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockexchange/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteHashRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.HSet(ctx, "h", "f", "1"))
	val, ok, err := s.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", val)

	require.NoError(t, s.HSet(ctx, "h", "f", "2"))
	val, _, err = s.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.Equal(t, "2", val, "HSet must overwrite an existing field")

	require.NoError(t, s.HDel(ctx, "h", "f"))
	_, ok, err = s.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteHIncrByFloat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v, err := s.HIncrByFloat(ctx, "h", "count", 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = s.HIncrByFloat(ctx, "h", "count", -1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestSQLiteSetOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SAdd(ctx, "set", "a"))
	require.NoError(t, s.SAdd(ctx, "set", "a"))
	members, err := s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members, "SAdd must be idempotent for an existing member")

	require.NoError(t, s.SRem(ctx, "set", "a"))
	members, err = s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestSQLitePipelineIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Pipeline(ctx, func(p storage.Pipeliner) error {
		p.HSet("h", "a", "1")
		p.HSet("h", "b", "2")
		p.SAdd("set", "x")
		return nil
	})
	require.NoError(t, err)

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)

	is, err := s.SIsMember(ctx, "set", "x")
	require.NoError(t, err)
	assert.True(t, is)
}

func TestSQLiteSetNXAndRefresh(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.SetNX(ctx, "lock", "leader", "node-1", 60)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", "leader", "node-2", 60)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Refresh(ctx, "lock", "leader", "node-1", 60)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Refresh(ctx, "lock", "leader", "node-2", 60)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteScanKeysAndUnlink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.HSet(ctx, "sym_BTC/USDT", "price", "1"))
	require.NoError(t, s.HSet(ctx, "sym_ETH/USDT", "price", "2"))

	keys, err := s.ScanKeys(ctx, "sym_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sym_BTC/USDT", "sym_ETH/USDT"}, keys)

	require.NoError(t, s.Unlink(ctx, "sym_BTC/USDT"))
	keys, err = s.ScanKeys(ctx, "sym_")
	require.NoError(t, err)
	assert.Equal(t, []string{"sym_ETH/USDT"}, keys)
}
