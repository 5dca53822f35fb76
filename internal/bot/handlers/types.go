package handlers

import (
	"context"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/i18n"
	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/internal/user"
)

// Handler processes bot commands.
type Handler func(c telebot.Context) error

// CallbackHandler processes inline callback events.
type CallbackHandler func(c telebot.Context) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

// HandlerFunc adapts ordinary functions to the Handler interface.
type HandlerFunc func(c telebot.Context) error

// Handle executes the underlying function.
func (h HandlerFunc) Handle(c telebot.Context) error {
	return h(c)
}

// UserService is the part of user.Service the handlers depend on.
type UserService interface {
	Register(ctx context.Context, userID int64, username string) (bool, error)
	Onboard(ctx context.Context, userID int64, username, payload string) (*user.OnboardResult, error)
	StartReveal(ctx context.Context, userID int64) (*user.RevealResult, error)
	ConsumeReveal(ctx context.Context, userID int64, premium bool) (bool, error)
	CompleteReveal(ctx context.Context, userID int64, target string) ([]string, error)
	ReferralInfo(ctx context.Context, userID int64) (*user.ReferralInfo, error)
	Profile(ctx context.Context, userID int64) (*user.Profile, error)
	GrantPremium(ctx context.Context, userID int64, days int) (time.Time, error)
	Stats(ctx context.Context) (ledger.Stats, error)
}

// Locales resolves a translator for a Telegram language code.
type Locales interface {
	Translator(lang string) i18n.Translator
}

const requestContextKey = "request_ctx"

// WithRequestContext stores ctx on the update so later handlers share it.
func WithRequestContext(c telebot.Context, ctx context.Context) {
	c.Set(requestContextKey, ctx)
}

// RequestContext returns the context attached to the update, or a background
// context when none was set.
func RequestContext(c telebot.Context) context.Context {
	if c != nil {
		if ctx, ok := c.Get(requestContextKey).(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// Args returns the command arguments following the first token of the message.
func Args(c telebot.Context) []string {
	fields := strings.Fields(c.Text())
	if len(fields) < 2 {
		return nil
	}
	return fields[1:]
}

// CommandName returns the leading /command of a message with any @botname
// suffix removed, or "" for plain text.
func CommandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}

	command := fields[0]
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return command
}

func translator(locales Locales, c telebot.Context) i18n.Translator {
	lang := ""
	if sender := c.Sender(); sender != nil {
		lang = sender.LanguageCode
	}
	return locales.Translator(lang)
}

func displayName(sender *telebot.User) string {
	switch {
	case sender == nil:
		return ""
	case sender.FirstName != "":
		return sender.FirstName
	case sender.Username != "":
		return "@" + sender.Username
	default:
		return ""
	}
}
