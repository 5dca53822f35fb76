package keyboard

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/i18n"
)

// Callback routes carried by the inline buttons.
const (
	CallbackSeeStalkers = "see_stalkers"
	CallbackPricing     = "pricing"
	CallbackReferral    = "referral"
	CallbackCancel      = "cancel"
)

// Builder creates the localized inline keyboards used by the bot.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{log: log}
}

// MainMenu builds the idle state menu: see stalkers, pricing and referrals.
func (b *Builder) MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	return b.build(NewInlineKeyboard().
		AddRow(InlineButton{Text: lookup(t, "menu.see_stalkers"), Unique: CallbackSeeStalkers}).
		AddRow(InlineButton{Text: lookup(t, "menu.pricing"), Unique: CallbackPricing}).
		AddRow(InlineButton{Text: lookup(t, "menu.referral"), Unique: CallbackReferral}))
}

// CancelButton builds a single cancel button shown while the bot waits for input.
func (b *Builder) CancelButton(t i18n.Translator) *telebot.ReplyMarkup {
	return b.build(NewInlineKeyboard().
		AddRow(InlineButton{Text: lookup(t, "menu.cancel"), Unique: CallbackCancel}))
}

func (b *Builder) build(builder *InlineKeyboardBuilder) *telebot.ReplyMarkup {
	markup, err := builder.Build()
	if err != nil {
		b.log.Error("failed to build keyboard", slog.Any("error", err))
		return &telebot.ReplyMarkup{}
	}
	return markup
}

func lookup(t i18n.Translator, key string) string {
	if t == nil {
		return key
	}
	return t.T(key)
}
