package handlers

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/stalk-bot/internal/bot/keyboard"
	apperrors "github.com/Proton-105/stalk-bot/internal/errors"
	"github.com/Proton-105/stalk-bot/internal/state"
	"github.com/Proton-105/stalk-bot/internal/user"
)

func TestStartHandler(t *testing.T) {
	locales := testLocales(t)
	tr := locales.Translator("tr")

	t.Run("new user with invite code", func(t *testing.T) {
		svc := &mockUserService{}
		svc.On("Onboard", mock.Anything, int64(10), "ayse", "REF7").
			Return(&user.OnboardResult{Created: true, Referred: true, InviterID: 7}, nil).Once()

		c := newMessage(10, "/start REF7")
		require.NoError(t, NewStartHandler(svc, locales, keyboard.NewBuilder(nil), testLogger())(c))

		assert.Contains(t, c.lastSent(), tr.Tf("start.welcome", "Ayşe"))
		assert.Contains(t, c.lastSent(), tr.T("start.referral_applied"))
		require.Len(t, c.markups, 1)
		assert.Len(t, c.markups[0].InlineKeyboard, 3)
		svc.AssertExpectations(t)
	})

	t.Run("returning user without payload", func(t *testing.T) {
		svc := &mockUserService{}
		svc.On("Onboard", mock.Anything, int64(10), "ayse", "").
			Return(&user.OnboardResult{}, nil).Once()

		c := newMessage(10, "/start")
		require.NoError(t, NewStartHandler(svc, locales, keyboard.NewBuilder(nil), testLogger())(c))

		assert.Equal(t, tr.Tf("start.welcome_back", "Ayşe"), c.lastSent())
		svc.AssertExpectations(t)
	})

	t.Run("storage failure is returned", func(t *testing.T) {
		svc := &mockUserService{}
		svc.On("Onboard", mock.Anything, int64(10), "ayse", "").
			Return(nil, apperrors.NewStorageError(assert.AnError)).Once()

		c := newMessage(10, "/start")
		err := NewStartHandler(svc, locales, keyboard.NewBuilder(nil), testLogger())(c)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Empty(t, c.sent)
	})
}

func TestRevealFlow(t *testing.T) {
	ctx := context.Background()
	locales := testLocales(t)
	tr := locales.Translator("tr")
	kb := keyboard.NewBuilder(nil)

	t.Run("allowed reveal waits for the target", func(t *testing.T) {
		fsm := testFSM(t)
		svc := &mockUserService{}
		svc.On("StartReveal", mock.Anything, int64(5)).
			Return(&user.RevealResult{Allowed: true, Handles: []string{"a***b", "c***d"}}, nil).Once()
		svc.On("ConsumeReveal", mock.Anything, int64(5), false).Return(true, nil).Once()

		c := newCallback(5, keyboard.CallbackSeeStalkers)
		require.NoError(t, NewRevealHandler(svc, fsm, locales, kb, testLogger())(c))

		require.Len(t, c.sent, 2)
		assert.Contains(t, c.sent[0], "a***b\nc***d")
		assert.Equal(t, tr.T("reveal.ask_target"), c.sent[1])
		assert.Equal(t, 1, c.responded)
		svc.AssertExpectations(t)

		current, err := fsm.GetState(ctx, 5)
		require.NoError(t, err)
		assert.True(t, current.Is(state.StateAwaitingTarget))
		assert.Equal(t, "a***b\nc***d", current.Context[state.ContextBlurred])
	})

	t.Run("state failure spends nothing", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		fsm := state.NewStateMachine(state.NewRedisStorage(client, testLogger(), time.Hour), testLogger(), client)
		mr.Close()

		svc := &mockUserService{}
		svc.On("StartReveal", mock.Anything, int64(5)).
			Return(&user.RevealResult{Allowed: true, Handles: []string{"a***b"}}, nil).Once()

		c := newCallback(5, keyboard.CallbackSeeStalkers)
		err := NewRevealHandler(svc, fsm, locales, kb, testLogger())(c)

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperrors.CodeState, appErr.Code)
		assert.Empty(t, c.sent)
		svc.AssertNotCalled(t, "ConsumeReveal", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lost race for the last unit returns to idle", func(t *testing.T) {
		fsm := testFSM(t)
		svc := &mockUserService{}
		svc.On("StartReveal", mock.Anything, int64(5)).
			Return(&user.RevealResult{Allowed: true, Handles: []string{"a***b"}}, nil).Once()
		svc.On("ConsumeReveal", mock.Anything, int64(5), false).Return(false, nil).Once()

		c := newCallback(5, keyboard.CallbackSeeStalkers)
		require.NoError(t, NewRevealHandler(svc, fsm, locales, kb, testLogger())(c))

		require.Len(t, c.sent, 1)
		assert.Equal(t, tr.T("reveal.quota_exhausted"), c.sent[0])
		current, err := fsm.GetState(ctx, 5)
		require.NoError(t, err)
		assert.True(t, current.Is(state.StateIdle))
	})

	t.Run("consume failure returns to idle", func(t *testing.T) {
		fsm := testFSM(t)
		svc := &mockUserService{}
		svc.On("StartReveal", mock.Anything, int64(5)).
			Return(&user.RevealResult{Allowed: true, Premium: true, Handles: []string{"a***b"}}, nil).Once()
		svc.On("ConsumeReveal", mock.Anything, int64(5), true).
			Return(false, apperrors.NewStorageError(assert.AnError)).Once()

		c := newCallback(5, keyboard.CallbackSeeStalkers)
		err := NewRevealHandler(svc, fsm, locales, kb, testLogger())(c)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Empty(t, c.sent)

		current, err := fsm.GetState(ctx, 5)
		require.NoError(t, err)
		assert.True(t, current.Is(state.StateIdle))
	})

	t.Run("exhausted quota stays idle", func(t *testing.T) {
		fsm := testFSM(t)
		svc := &mockUserService{}
		svc.On("StartReveal", mock.Anything, int64(5)).Return(&user.RevealResult{}, nil).Once()

		c := newCallback(5, keyboard.CallbackSeeStalkers)
		require.NoError(t, NewRevealHandler(svc, fsm, locales, kb, testLogger())(c))

		assert.Equal(t, tr.T("reveal.quota_exhausted"), c.lastSent())
		svc.AssertNotCalled(t, "ConsumeReveal", mock.Anything, mock.Anything, mock.Anything)
		current, err := fsm.GetState(ctx, 5)
		require.NoError(t, err)
		assert.True(t, current.Is(state.StateIdle))
	})

	t.Run("invalid target keeps waiting", func(t *testing.T) {
		fsm := testFSM(t)
		require.NoError(t, fsm.SetState(ctx, 5, state.StateAwaitingTarget, nil))

		svc := &mockUserService{}
		svc.On("CompleteReveal", mock.Anything, int64(5), "not a handle!").
			Return(nil, apperrors.NewValidationError("bad handle")).Once()

		c := newMessage(5, "not a handle!")
		require.NoError(t, NewTargetHandler(svc, fsm, locales, kb, testLogger())(c))

		assert.Equal(t, tr.T("reveal.invalid_target"), c.lastSent())
		current, err := fsm.GetState(ctx, 5)
		require.NoError(t, err)
		assert.True(t, current.Is(state.StateAwaitingTarget))
	})

	t.Run("valid target shows the full list", func(t *testing.T) {
		fsm := testFSM(t)
		require.NoError(t, fsm.SetState(ctx, 5, state.StateAwaitingTarget, nil))

		svc := &mockUserService{}
		svc.On("CompleteReveal", mock.Anything, int64(5), "@Someone").
			Return([]string{"alpha", "beta"}, nil).Once()

		c := newMessage(5, "@Someone")
		require.NoError(t, NewTargetHandler(svc, fsm, locales, kb, testLogger())(c))

		assert.Equal(t, tr.T("reveal.full_header")+"\nalpha\nbeta", c.lastSent())
		current, err := fsm.GetState(ctx, 5)
		require.NoError(t, err)
		assert.True(t, current.Is(state.StateIdle))
		svc.AssertExpectations(t)
	})
}

func TestCancelHandler(t *testing.T) {
	ctx := context.Background()
	locales := testLocales(t)
	fsm := testFSM(t)
	require.NoError(t, fsm.SetState(ctx, 8, state.StateAwaitingTarget, nil))

	c := newCallback(8, keyboard.CallbackCancel)
	require.NoError(t, NewCancelHandler(fsm, locales, keyboard.NewBuilder(nil), testLogger())(c))

	assert.Equal(t, locales.Translator("tr").T("cancel.done"), c.lastSent())
	assert.Equal(t, 1, c.responded)
	current, err := fsm.GetState(ctx, 8)
	require.NoError(t, err)
	assert.True(t, current.Is(state.StateIdle))
}
