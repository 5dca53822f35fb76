package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/internal/usercache"
	appredis "github.com/Proton-105/stalk-bot/pkg/redis"
)

type countingStore struct {
	ledger.Store
	codeCalls int
}

func (s *countingStore) GetReferralCode(ctx context.Context, userID int64) (string, bool, error) {
	s.codeCalls++
	return s.Store.GetReferralCode(ctx, userID)
}

func newRedisCache(t *testing.T) (*usercache.Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	kv := appredis.NewMetricsClient(appredis.Wrap(rdb))
	return usercache.NewCache(kv, time.Hour), mr
}

func TestCachedStore_ServesReferralCodeFromRedis(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)

	inner := &countingStore{Store: ledger.NewMemoryStore()}
	_, err := inner.RegisterUser(ctx, 1, "inviter")
	require.NoError(t, err)

	store := ledger.NewCachedStore(inner, cache, nil)

	for i := 0; i < 3; i++ {
		code, ok, err := store.GetReferralCode(ctx, 1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "REF1", code)
	}

	assert.Equal(t, 1, inner.codeCalls)

	cached, err := mr.Get("user:1:referral_code")
	require.NoError(t, err)
	assert.Equal(t, "REF1", cached)
	assert.Equal(t, time.Hour, mr.TTL("user:1:referral_code"))
}

func TestCachedStore_UnknownUserIsNotCached(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)

	store := ledger.NewCachedStore(ledger.NewMemoryStore(), cache, nil)

	code, ok, err := store.GetReferralCode(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, code)
	assert.False(t, mr.Exists("user:9:referral_code"))
}

func TestCachedStore_DegradesWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)

	inner := &countingStore{Store: ledger.NewMemoryStore()}
	_, err := inner.RegisterUser(ctx, 2, "")
	require.NoError(t, err)

	store := ledger.NewCachedStore(inner, cache, nil)
	mr.Close()

	code, ok, err := store.GetReferralCode(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "REF2", code)
	assert.Equal(t, 1, inner.codeCalls)
}

func TestCachedStore_PassesThroughOtherOperations(t *testing.T) {
	ctx := context.Background()
	cache, _ := newRedisCache(t)
	store := ledger.NewCachedStore(ledger.NewMemoryStore(), cache, nil)

	_, err := store.RegisterUser(ctx, 1, "a")
	require.NoError(t, err)
	_, err = store.RegisterUser(ctx, 2, "b")
	require.NoError(t, err)

	require.NoError(t, store.RecordReferral(ctx, "REF1", 2))
	err = store.RecordReferral(ctx, "REF1", 2)
	assert.True(t, errors.Is(err, ledger.ErrAlreadyReferred))

	count, err := store.CountReferrals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
