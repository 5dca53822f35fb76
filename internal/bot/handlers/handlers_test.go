package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/i18n"
	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/internal/state"
	"github.com/Proton-105/stalk-bot/internal/user"
)

type mockUserService struct {
	mock.Mock
}

func (m *mockUserService) Register(ctx context.Context, userID int64, username string) (bool, error) {
	args := m.Called(ctx, userID, username)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserService) Onboard(ctx context.Context, userID int64, username, payload string) (*user.OnboardResult, error) {
	args := m.Called(ctx, userID, username, payload)
	result, _ := args.Get(0).(*user.OnboardResult)
	return result, args.Error(1)
}

func (m *mockUserService) StartReveal(ctx context.Context, userID int64) (*user.RevealResult, error) {
	args := m.Called(ctx, userID)
	result, _ := args.Get(0).(*user.RevealResult)
	return result, args.Error(1)
}

func (m *mockUserService) ConsumeReveal(ctx context.Context, userID int64, premium bool) (bool, error) {
	args := m.Called(ctx, userID, premium)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserService) CompleteReveal(ctx context.Context, userID int64, target string) ([]string, error) {
	args := m.Called(ctx, userID, target)
	handles, _ := args.Get(0).([]string)
	return handles, args.Error(1)
}

func (m *mockUserService) ReferralInfo(ctx context.Context, userID int64) (*user.ReferralInfo, error) {
	args := m.Called(ctx, userID)
	info, _ := args.Get(0).(*user.ReferralInfo)
	return info, args.Error(1)
}

func (m *mockUserService) Profile(ctx context.Context, userID int64) (*user.Profile, error) {
	args := m.Called(ctx, userID)
	profile, _ := args.Get(0).(*user.Profile)
	return profile, args.Error(1)
}

func (m *mockUserService) GrantPremium(ctx context.Context, userID int64, days int) (time.Time, error) {
	args := m.Called(ctx, userID, days)
	until, _ := args.Get(0).(time.Time)
	return until, args.Error(1)
}

func (m *mockUserService) Stats(ctx context.Context) (ledger.Stats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(ledger.Stats)
	return stats, args.Error(1)
}

// fakeContext implements the parts of telebot.Context the handlers touch.
// Any other method panics through the nil embedded interface.
type fakeContext struct {
	telebot.Context

	sender    *telebot.User
	text      string
	callback  *telebot.Callback
	sent      []string
	markups   []*telebot.ReplyMarkup
	store     map[string]interface{}
	responded int
	deleted   bool
}

func newMessage(userID int64, text string) *fakeContext {
	return &fakeContext{
		sender: &telebot.User{ID: userID, FirstName: "Ayşe", Username: "ayse", LanguageCode: "tr"},
		text:   text,
	}
}

func newCallback(userID int64, data string) *fakeContext {
	c := newMessage(userID, "")
	c.callback = &telebot.Callback{ID: "cb-1", Data: data}
	return c
}

func (f *fakeContext) Sender() *telebot.User       { return f.sender }
func (f *fakeContext) Text() string                { return f.text }
func (f *fakeContext) Callback() *telebot.Callback { return f.callback }
func (f *fakeContext) Delete() error               { f.deleted = true; return nil }

func (f *fakeContext) Respond(...*telebot.CallbackResponse) error {
	f.responded++
	return nil
}

func (f *fakeContext) Send(what interface{}, opts ...interface{}) error {
	f.sent = append(f.sent, fmt.Sprint(what))
	for _, opt := range opts {
		if markup, ok := opt.(*telebot.ReplyMarkup); ok {
			f.markups = append(f.markups, markup)
		}
	}
	return nil
}

func (f *fakeContext) Get(key string) interface{} {
	return f.store[key]
}

func (f *fakeContext) Set(key string, val interface{}) {
	if f.store == nil {
		f.store = make(map[string]interface{})
	}
	f.store[key] = val
}

func (f *fakeContext) lastSent() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLocales(t *testing.T) *i18n.Manager {
	t.Helper()
	manager, err := i18n.Load(i18n.DefaultLang)
	require.NoError(t, err)
	return manager
}

func testFSM(t *testing.T) state.StateMachine {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return state.NewStateMachine(state.NewRedisStorage(client, testLogger(), time.Hour), testLogger(), client)
}
