package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/stalk-bot/internal/jobs"
	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/internal/rewards"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyReward(ctx context.Context, grant *rewards.Grant) error {
	return m.Called(ctx, grant).Error(0)
}

type failingStats struct{}

func (failingStats) Stats(context.Context) (ledger.Stats, error) {
	return ledger.Stats{}, errors.New("down")
}

func seedReferrals(t *testing.T, store *ledger.MemoryStore, inviterID int64, n int) {
	t.Helper()
	ctx := context.Background()

	_, err := store.RegisterUser(ctx, inviterID, "inviter")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		invitee := inviterID*100 + int64(i) + 1
		_, err := store.RegisterUser(ctx, invitee, fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		require.NoError(t, store.RecordReferral(ctx, ledger.ReferralCodeFor(inviterID), invitee))
	}
}

func rewardTask(t *testing.T, inviterID, inviteeID int64) *asynq.Task {
	t.Helper()
	task, err := jobs.NewReferralRewardTask(inviterID, inviteeID)
	require.NoError(t, err)
	return task
}

func TestReferralRewardHandler_GrantsAndNotifies(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := ledger.NewMemoryStore(ledger.WithClock(func() time.Time { return now }))
	seedReferrals(t, store, 1, 3)

	policy := rewards.NewPolicy(store, 3, 24*time.Hour, testLogger()).WithClock(func() time.Time { return now })
	notifier := &mockNotifier{}
	notifier.On("NotifyReward", mock.Anything, mock.MatchedBy(func(g *rewards.Grant) bool {
		return g.UserID == 1 && g.Referrals == 3 && g.Milestones == 1 && g.Until.Equal(now.Add(24*time.Hour))
	})).Return(errors.New("blocked by user")).Once()

	handler := NewReferralRewardHandler(policy, notifier, testLogger())
	require.NoError(t, handler.ProcessTask(context.Background(), rewardTask(t, 1, 103)))
	require.NoError(t, handler.ProcessTask(context.Background(), rewardTask(t, 1, 102)), "a redelivered or sibling task pays nothing twice")

	user, err := store.GetUser(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, user.PremiumUntil)
	assert.True(t, user.PremiumUntil.Equal(now.Add(24*time.Hour)))
	notifier.AssertExpectations(t)
}

func TestReferralRewardHandler_OffMilestoneIsNoop(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedReferrals(t, store, 2, 2)

	handler := NewReferralRewardHandler(rewards.NewPolicy(store, 3, time.Hour, testLogger()), nil, testLogger())
	require.NoError(t, handler.ProcessTask(context.Background(), rewardTask(t, 2, 202)))

	user, err := store.GetUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, user.PremiumUntil)
}

func TestReferralRewardHandler_BadPayloadSkipsRetry(t *testing.T) {
	handler := NewReferralRewardHandler(rewards.NewPolicy(ledger.NewMemoryStore(), 3, time.Hour, testLogger()), nil, testLogger())

	err := handler.ProcessTask(context.Background(), asynq.NewTask(jobs.TaskTypeReferralReward, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReferralRewardTaskPayload(t *testing.T) {
	task := rewardTask(t, 5, 6)
	assert.Equal(t, jobs.TaskTypeReferralReward, task.Type())

	var payload jobs.ReferralRewardPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, jobs.ReferralRewardPayload{InviterID: 5, InviteeID: 6}, payload)
	assert.Equal(t, "referral:5:6", jobs.ReferralRewardTaskID(5, 6))
}

func TestLedgerStatsHandler(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedReferrals(t, store, 3, 1)

	require.NoError(t, NewLedgerStatsHandler(store, testLogger()).ProcessTask(context.Background(), jobs.NewLedgerStatsTask()))
	assert.Error(t, NewLedgerStatsHandler(failingStats{}, testLogger()).ProcessTask(context.Background(), jobs.NewLedgerStatsTask()))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
