package user

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/stalk-bot/internal/errors"
	"github.com/Proton-105/stalk-bot/internal/jobs"
	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/internal/profiles"
	"github.com/Proton-105/stalk-bot/internal/rewards"
)

var testNow = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

// flakyStore fails HasFreeQuota a fixed number of times.
type flakyStore struct {
	*ledger.MemoryStore
	failures atomic.Int32
}

func (f *flakyStore) HasFreeQuota(ctx context.Context, userID int64) (bool, error) {
	if f.failures.Add(-1) >= 0 {
		return false, &ledger.StorageError{Op: "has_free_quota", Err: errors.New("connection reset")}
	}
	return f.MemoryStore.HasFreeQuota(ctx, userID)
}

// lostReplyStore commits the first RegisterUser and then reports a timeout.
type lostReplyStore struct {
	*ledger.MemoryStore
	calls atomic.Int32
}

func (l *lostReplyStore) RegisterUser(ctx context.Context, userID int64, username string) (bool, error) {
	created, err := l.MemoryStore.RegisterUser(ctx, userID, username)
	if l.calls.Add(1) == 1 {
		return false, &ledger.StorageError{Op: "register_user", Err: context.DeadlineExceeded}
	}
	return created, err
}

// gatedStore holds CountReferrals until the expected number of referrals is
// recorded, so concurrent onboardings all read the final total.
type gatedStore struct {
	*ledger.MemoryStore
	recorded sync.WaitGroup
}

func (g *gatedStore) RecordReferral(ctx context.Context, code string, inviteeID int64) error {
	defer g.recorded.Done()
	return g.MemoryStore.RecordReferral(ctx, code, inviteeID)
}

func (g *gatedStore) CountReferrals(ctx context.Context, userID int64) (int, error) {
	g.recorded.Wait()
	return g.MemoryStore.CountReferrals(ctx, userID)
}

func newService(t *testing.T, store ledger.Store, threshold int, queue Enqueuer) *Service {
	t.Helper()

	clock := func() time.Time { return testNow }
	policy := rewards.NewPolicy(store, threshold, 7*24*time.Hour, testLogger()).WithClock(clock)
	generator := profiles.NewGenerator(5).WithClock(clock)

	return NewService(store, policy, generator, queue, testLogger()).WithClock(clock)
}

func newStore() *ledger.MemoryStore {
	return ledger.NewMemoryStore(ledger.WithClock(func() time.Time { return testNow }))
}

func TestOnboard_NewUserWithCodeEnqueuesReward(t *testing.T) {
	store := newStore()
	queue := &mockQueue{}
	svc := newService(t, store, 15, queue)
	ctx := context.Background()

	_, err := svc.Onboard(ctx, 1, "inviter", "")
	require.NoError(t, err)

	queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		var payload jobs.ReferralRewardPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return false
		}
		return task.Type() == jobs.TaskTypeReferralReward &&
			payload == jobs.ReferralRewardPayload{InviterID: 1, InviteeID: 2}
	})).Return(&asynq.TaskInfo{ID: "referral:1:2"}, nil).Once()

	result, err := svc.Onboard(ctx, 2, "invitee", " REF1 ")
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.True(t, result.Referred)
	assert.Equal(t, int64(1), result.InviterID)
	queue.AssertExpectations(t)

	count, err := store.CountReferrals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOnboard_ExistingUserIsNotReferred(t *testing.T) {
	store := newStore()
	queue := &mockQueue{}
	svc := newService(t, store, 15, queue)
	ctx := context.Background()

	_, err := svc.Onboard(ctx, 1, "inviter", "")
	require.NoError(t, err)
	_, err = svc.Onboard(ctx, 2, "late", "")
	require.NoError(t, err)

	result, err := svc.Onboard(ctx, 2, "late", "REF1")
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.False(t, result.Referred)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestOnboard_RejectedCodesDoNotFailStart(t *testing.T) {
	store := newStore()
	svc := newService(t, store, 15, nil)
	ctx := context.Background()

	result, err := svc.Onboard(ctx, 3, "someone", "REF999")
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.False(t, result.Referred)

	result, err = svc.Onboard(ctx, 4, "self", "REF4")
	require.NoError(t, err)
	assert.False(t, result.Referred)
}

func TestOnboard_InlineRewardWithoutQueue(t *testing.T) {
	store := newStore()
	svc := newService(t, store, 2, nil)
	ctx := context.Background()

	_, err := svc.Onboard(ctx, 1, "inviter", "")
	require.NoError(t, err)
	for _, invitee := range []int64{10, 11} {
		_, err := svc.Onboard(ctx, invitee, "", "REF1")
		require.NoError(t, err)
	}

	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user.PremiumUntil)
	assert.True(t, user.PremiumUntil.Equal(testNow.Add(7*24*time.Hour)))
}

func TestOnboard_EnqueueFailureFallsBackInline(t *testing.T) {
	store := newStore()
	queue := &mockQueue{}
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil, errors.New("redis down")).Once()
	svc := newService(t, store, 1, queue)
	ctx := context.Background()

	_, err := svc.Onboard(ctx, 1, "inviter", "")
	require.NoError(t, err)
	_, err = svc.Onboard(ctx, 2, "", "REF1")
	require.NoError(t, err)

	premium, err := store.IsPremiumActive(ctx, 1)
	require.NoError(t, err)
	assert.True(t, premium)
}

func TestOnboard_ConcurrentReferralsPayMilestoneOnce(t *testing.T) {
	tests := []struct {
		name  string
		prior int
		final int
	}{
		{name: "both land on the milestone", prior: 1, final: 3},
		{name: "pair steps over the milestone", prior: 2, final: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &gatedStore{MemoryStore: newStore()}
			svc := newService(t, store, 3, nil)

			_, err := store.MemoryStore.RegisterUser(ctx, 1, "inviter")
			require.NoError(t, err)
			for i := 0; i < tt.prior; i++ {
				invitee := int64(50 + i)
				_, err := store.MemoryStore.RegisterUser(ctx, invitee, "")
				require.NoError(t, err)
				require.NoError(t, store.MemoryStore.RecordReferral(ctx, "REF1", invitee))
			}

			store.recorded.Add(2)
			var wg sync.WaitGroup
			for _, invitee := range []int64{100, 101} {
				wg.Add(1)
				go func(invitee int64) {
					defer wg.Done()
					result, err := svc.Onboard(ctx, invitee, "", "REF1")
					if assert.NoError(t, err) {
						assert.True(t, result.Referred)
					}
				}(invitee)
			}
			wg.Wait()

			count, err := store.CountReferrals(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.final, count)

			user, err := store.GetUser(ctx, 1)
			require.NoError(t, err)
			require.NotNil(t, user.PremiumUntil, "the milestone at 3 is paid")
			assert.True(t, user.PremiumUntil.Equal(testNow.Add(7*24*time.Hour)), "the milestone is paid once, got %s", user.PremiumUntil)
		})
	}
}

func TestOnboard_LostRegisterReplyKeepsReferral(t *testing.T) {
	store := &lostReplyStore{MemoryStore: newStore()}
	svc := newService(t, store, 15, nil)
	ctx := context.Background()

	_, err := store.MemoryStore.RegisterUser(ctx, 1, "inviter")
	require.NoError(t, err)

	result, err := svc.Onboard(ctx, 2, "invitee", "REF1")
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.True(t, result.Referred)
	assert.Equal(t, int32(2), store.calls.Load())

	count, err := store.CountReferrals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOnboard_LostRegisterReplyForExistingUser(t *testing.T) {
	store := &lostReplyStore{MemoryStore: newStore()}
	svc := newService(t, store, 15, nil).WithClock(func() time.Time { return testNow.Add(time.Hour) })
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		_, err := store.MemoryStore.RegisterUser(ctx, id, "")
		require.NoError(t, err)
	}

	result, err := svc.Onboard(ctx, 2, "", "REF1")
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.False(t, result.Referred)

	count, err := store.CountReferrals(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReveal_PreviewSpendsNothingUntilConsumed(t *testing.T) {
	store := newStore()
	svc := newService(t, store, 15, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, 5, "viewer")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		preview, err := svc.StartReveal(ctx, 5)
		require.NoError(t, err)
		assert.True(t, preview.Allowed)
		assert.False(t, preview.Premium)
		require.Len(t, preview.Handles, 5)
		for _, handle := range preview.Handles {
			assert.Contains(t, handle, "*")
		}
	}

	consumed, err := svc.ConsumeReveal(ctx, 5, false)
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = svc.ConsumeReveal(ctx, 5, false)
	require.NoError(t, err)
	assert.False(t, consumed)

	preview, err := svc.StartReveal(ctx, 5)
	require.NoError(t, err)
	assert.False(t, preview.Allowed)
}

func TestReveal_PremiumKeepsQuota(t *testing.T) {
	store := newStore()
	svc := newService(t, store, 15, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, 6, "vip")
	require.NoError(t, err)
	require.NoError(t, store.GrantPremium(ctx, 6, testNow.Add(time.Hour)))

	for i := 0; i < 3; i++ {
		result, err := svc.StartReveal(ctx, 6)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.True(t, result.Premium)

		consumed, err := svc.ConsumeReveal(ctx, 6, result.Premium)
		require.NoError(t, err)
		assert.True(t, consumed)
	}

	user, err := store.GetUser(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, user.FreeQuota)
}

func TestStartReveal_RetriesStorageOutage(t *testing.T) {
	store := &flakyStore{MemoryStore: newStore()}
	store.failures.Store(1)
	svc := newService(t, store, 15, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, 7, "")
	require.NoError(t, err)

	result, err := svc.StartReveal(ctx, 7)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCompleteReveal(t *testing.T) {
	store := newStore()
	svc := newService(t, store, 15, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, 8, "")
	require.NoError(t, err)

	_, err = svc.CompleteReveal(ctx, 8, "not a handle!")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeValidation, appErr.Code)

	preview, err := svc.StartReveal(ctx, 8)
	require.NoError(t, err)

	handles, err := svc.CompleteReveal(ctx, 8, " @Some.User ")
	require.NoError(t, err)
	require.Len(t, handles, len(preview.Handles))
	for i, handle := range handles {
		assert.Equal(t, profiles.Blur(handle), preview.Handles[i])
	}

	queries := store.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, "some.user", queries[0].TargetHandle)
	assert.Equal(t, strings.Join(handles, ledger.ResultSeparator), queries[0].ResultSet)
}

func TestGrantPremium(t *testing.T) {
	store := newStore()
	svc := newService(t, store, 15, nil)
	ctx := context.Background()

	_, err := svc.GrantPremium(ctx, 9, 0)
	assert.Error(t, err)

	_, err = svc.GrantPremium(ctx, 9, 3)
	assert.ErrorIs(t, err, ErrUnknownUser)

	_, err = svc.Register(ctx, 9, "")
	require.NoError(t, err)

	until, err := svc.GrantPremium(ctx, 9, 3)
	require.NoError(t, err)
	assert.True(t, until.Equal(testNow.Add(3*24*time.Hour)))

	until, err = svc.GrantPremium(ctx, 9, 1)
	require.NoError(t, err)
	assert.True(t, until.Equal(testNow.Add(4*24*time.Hour)), "grants stack on an active window")
}

func TestReferralInfoAndProfile(t *testing.T) {
	store := newStore()
	svc := newService(t, store, 15, nil)
	ctx := context.Background()

	_, err := svc.ReferralInfo(ctx, 1)
	assert.Error(t, err)

	_, err = svc.Onboard(ctx, 1, "inviter", "")
	require.NoError(t, err)
	_, err = svc.Onboard(ctx, 2, "", "REF1")
	require.NoError(t, err)

	info, err := svc.ReferralInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "REF1", info.Code)
	assert.Equal(t, 1, info.Count)
	assert.Equal(t, 14, info.Remaining)
	assert.Equal(t, 15, info.Threshold)

	profile, err := svc.Profile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.Referrals)
	assert.False(t, profile.Premium)
	assert.Equal(t, 1, profile.User.FreeQuota)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Users)
	assert.Equal(t, int64(1), stats.Referrals)
}

func TestMapLedgerError(t *testing.T) {
	var appErr *apperrors.AppError

	require.ErrorAs(t, mapLedgerError(&ledger.StorageError{Op: "x", Err: errors.New("down")}), &appErr)
	assert.Equal(t, apperrors.CodeStorage, appErr.Code)
	assert.True(t, appErr.Retryable)

	require.ErrorAs(t, mapLedgerError(ledger.ErrAlreadyReferred), &appErr)
	assert.Equal(t, apperrors.CodeReferral, appErr.Code)
	assert.ErrorIs(t, appErr, ledger.ErrAlreadyReferred)

	assert.Nil(t, mapLedgerError(nil))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
