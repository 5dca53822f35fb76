package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/bot/keyboard"
	"github.com/Proton-105/stalk-bot/internal/state"
)

// NewCancelHandler resets user state and returns the user to the main menu.
// It serves both /cancel and the cancel button.
func NewCancelHandler(fsm state.StateMachine, locales Locales, kb *keyboard.Builder, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("cancel handler invoked without sender context")
			return nil
		}
		if c.Callback() != nil {
			_ = c.Respond()
		}

		ctx := RequestContext(c)
		if err := fsm.ClearState(ctx, sender.ID); err != nil {
			log.ErrorContext(ctx, "failed to clear user state", slog.Int64("user_id", sender.ID), slog.Any("error", err))
			return err
		}

		t := translator(locales, c)
		return c.Send(t.T("cancel.done"), kb.MainMenu(t))
	}
}
