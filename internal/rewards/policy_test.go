package rewards_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/internal/rewards"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPolicy_Milestones(t *testing.T) {
	p := rewards.NewPolicy(nil, 15, time.Hour, nil)

	assert.Equal(t, 0, p.Milestones(0))
	assert.Equal(t, 0, p.Milestones(14))
	assert.Equal(t, 1, p.Milestones(15))
	assert.Equal(t, 1, p.Milestones(16))
	assert.Equal(t, 2, p.Milestones(30))
	assert.Equal(t, 0, p.Milestones(-3))

	assert.Equal(t, 15, p.Remaining(0))
	assert.Equal(t, 1, p.Remaining(14))
	assert.Equal(t, 15, p.Remaining(15))
}

func TestPolicy_DefaultsForInvalidConfig(t *testing.T) {
	p := rewards.NewPolicy(nil, 0, 0, nil)

	assert.Equal(t, rewards.DefaultThreshold, p.Threshold())
	assert.Equal(t, rewards.DefaultReward, p.Reward())
}

func seedReferrals(t *testing.T, store *ledger.MemoryStore, inviterID int64, from, to int64) {
	t.Helper()
	ctx := context.Background()

	for i := from; i < to; i++ {
		_, err := store.RegisterUser(ctx, i, fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		require.NoError(t, store.RecordReferral(ctx, ledger.ReferralCodeFor(inviterID), i))
	}
}

func TestPolicy_ApplyGrantsEachMilestoneOnce(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore(ledger.WithClock(func() time.Time { return baseTime }))

	_, err := store.RegisterUser(ctx, 1, "inviter")
	require.NoError(t, err)
	seedReferrals(t, store, 1, 100, 115)

	policy := rewards.NewPolicy(store, 15, 7*24*time.Hour, nil).
		WithClock(func() time.Time { return baseTime })

	grant, err := policy.Apply(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, 15, grant.Referrals)
	assert.Equal(t, 1, grant.Milestones)
	assert.Equal(t, baseTime.Add(7*24*time.Hour), grant.Until)

	active, err := store.IsPremiumActive(ctx, 1)
	require.NoError(t, err)
	assert.True(t, active)

	grant, err = policy.Apply(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, grant, "a paid milestone is not paid again")

	seedReferrals(t, store, 1, 115, 130)
	grant, err = policy.Apply(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, 1, grant.Milestones)
	assert.Equal(t, baseTime.Add(14*24*time.Hour), grant.Until, "second grant stacks on the active window")
}

func TestPolicy_ApplyCatchesUpMissedMilestones(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore(ledger.WithClock(func() time.Time { return baseTime }))

	_, err := store.RegisterUser(ctx, 1, "inviter")
	require.NoError(t, err)
	seedReferrals(t, store, 1, 100, 107)

	policy := rewards.NewPolicy(store, 3, 24*time.Hour, nil).
		WithClock(func() time.Time { return baseTime })

	grant, err := policy.Apply(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, 7, grant.Referrals)
	assert.Equal(t, 2, grant.Milestones)
	assert.Equal(t, baseTime.Add(48*time.Hour), grant.Until)
}

func TestPolicy_ApplySkipsBelowThreshold(t *testing.T) {
	store := &mockLedger{}
	store.On("CountReferrals", mock.Anything, int64(1)).Return(7, nil)
	policy := rewards.NewPolicy(store, 15, time.Hour, nil)

	grant, err := policy.Apply(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, grant)
	store.AssertNotCalled(t, "ClaimReferralRewards", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPolicy_ApplyPropagatesStorageErrors(t *testing.T) {
	store := &mockLedger{}
	storageErr := &ledger.StorageError{Op: "count_referrals", Err: errors.New("down")}
	store.On("CountReferrals", mock.Anything, int64(1)).Return(0, storageErr)

	policy := rewards.NewPolicy(store, 15, time.Hour, nil)

	grant, err := policy.Apply(context.Background(), 1)
	assert.Nil(t, grant)
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	store.AssertExpectations(t)
}

func TestPolicy_ExtendUnknownUser(t *testing.T) {
	store := &mockLedger{}
	store.On("ExtendPremium", mock.Anything, int64(9), baseTime, time.Hour).Return(time.Time{}, nil)

	until, err := rewards.NewPolicy(store, 15, time.Hour, nil).
		WithClock(func() time.Time { return baseTime }).
		Extend(context.Background(), 9, time.Hour)
	require.NoError(t, err)
	assert.True(t, until.IsZero())
	store.AssertExpectations(t)
}

func TestPolicy_ConcurrentExtendsAllLand(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore(ledger.WithClock(func() time.Time { return baseTime }))
	_, err := store.RegisterUser(ctx, 1, "")
	require.NoError(t, err)

	policy := rewards.NewPolicy(store, 15, time.Hour, nil).
		WithClock(func() time.Time { return baseTime })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := policy.Extend(ctx, 1, 24*time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user.PremiumUntil)
	assert.Equal(t, baseTime.Add(10*24*time.Hour), *user.PremiumUntil)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) CountReferrals(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockLedger) ExtendPremium(ctx context.Context, userID int64, now time.Time, d time.Duration) (time.Time, error) {
	args := m.Called(ctx, userID, now, d)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *mockLedger) ClaimReferralRewards(ctx context.Context, userID int64, milestones int, now time.Time, d time.Duration) (int, time.Time, error) {
	args := m.Called(ctx, userID, milestones, now, d)
	return args.Int(0), args.Get(1).(time.Time), args.Error(2)
}
