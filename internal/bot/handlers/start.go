package handlers

import (
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/bot/keyboard"
)

// NewStartHandler registers the sender, applies an invite code passed as the
// /start payload and shows the main menu.
func NewStartHandler(svc UserService, locales Locales, kb *keyboard.Builder, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("start handler invoked without sender")
			return nil
		}

		payload := ""
		if args := Args(c); len(args) > 0 {
			payload = args[0]
		}

		ctx := RequestContext(c)
		result, err := svc.Onboard(ctx, sender.ID, sender.Username, payload)
		if err != nil {
			return err
		}

		t := translator(locales, c)
		lines := make([]string, 0, 2)
		if result.Created {
			lines = append(lines, t.Tf("start.welcome", displayName(sender)))
		} else {
			lines = append(lines, t.Tf("start.welcome_back", displayName(sender)))
		}
		if result.Referred {
			lines = append(lines, t.T("start.referral_applied"))
			log.InfoContext(ctx, "user joined through referral",
				slog.Int64("user_id", sender.ID),
				slog.Int64("inviter_id", result.InviterID),
			)
		}

		return c.Send(strings.Join(lines, "\n"), kb.MainMenu(t))
	}
}
