package handlers

import (
	"errors"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/bot/keyboard"
	apperrors "github.com/Proton-105/stalk-bot/internal/errors"
	"github.com/Proton-105/stalk-bot/internal/state"
)

// NewRevealHandler handles the see-stalkers button. It moves the user to
// awaiting_target, then spends a free reveal and shows the blurred list.
func NewRevealHandler(svc UserService, fsm state.StateMachine, locales Locales, kb *keyboard.Builder, log *slog.Logger) CallbackHandler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		_ = c.Respond()

		ctx := RequestContext(c)
		t := translator(locales, c)

		result, err := svc.StartReveal(ctx, sender.ID)
		if err != nil {
			return err
		}
		if !result.Allowed {
			return c.Send(t.T("reveal.quota_exhausted"), kb.MainMenu(t))
		}

		blurred := strings.Join(result.Handles, "\n")
		if err := fsm.SetState(ctx, sender.ID, state.StateAwaitingTarget, map[string]interface{}{
			state.ContextBlurred: blurred,
		}); err != nil {
			log.ErrorContext(ctx, "failed to await target", slog.Int64("user_id", sender.ID), slog.Any("error", err))
			return apperrors.NewStateError(err.Error())
		}

		consumed, err := svc.ConsumeReveal(ctx, sender.ID, result.Premium)
		if err != nil || !consumed {
			if clearErr := fsm.ClearState(ctx, sender.ID); clearErr != nil {
				log.WarnContext(ctx, "failed to reset state after unpaid reveal", slog.Int64("user_id", sender.ID), slog.Any("error", clearErr))
			}
			if err != nil {
				return err
			}
			return c.Send(t.T("reveal.quota_exhausted"), kb.MainMenu(t))
		}

		text := t.T("reveal.blurred_header") + "\n" + blurred + "\n\n" + t.T("reveal.blurred_footer")
		if err := c.Send(text); err != nil {
			return err
		}

		return c.Send(t.T("reveal.ask_target"), kb.CancelButton(t))
	}
}

// NewTargetHandler answers the handle sent while awaiting a target with the
// full list, then returns the user to the menu.
func NewTargetHandler(svc UserService, fsm state.StateMachine, locales Locales, kb *keyboard.Builder, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}

		ctx := RequestContext(c)
		t := translator(locales, c)

		handles, err := svc.CompleteReveal(ctx, sender.ID, c.Text())
		if err != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) && appErr.Code == apperrors.CodeValidation {
				return c.Send(t.T("reveal.invalid_target"), kb.CancelButton(t))
			}
			return err
		}

		if err := fsm.ClearState(ctx, sender.ID); err != nil {
			log.WarnContext(ctx, "failed to reset state after reveal", slog.Int64("user_id", sender.ID), slog.Any("error", err))
		}

		text := t.T("reveal.full_header") + "\n" + strings.Join(handles, "\n")
		return c.Send(text, kb.MainMenu(t))
	}
}
