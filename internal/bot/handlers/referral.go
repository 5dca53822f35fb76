package handlers

import (
	"fmt"
	"strings"

	telebot "gopkg.in/telebot.v3"
)

// NewReferralHandler shows the sender's invite code, deep link and progress
// towards the next reward.
func NewReferralHandler(svc UserService, locales Locales, botUsername string) CallbackHandler {
	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		_ = c.Respond()

		info, err := svc.ReferralInfo(RequestContext(c), sender.ID)
		if err != nil {
			return err
		}

		t := translator(locales, c)
		lines := []string{
			t.T("referral.header"),
			t.Tf("referral.pitch", info.Threshold, int(info.Reward.Hours()/24)),
			t.Tf("referral.code", info.Code),
		}
		if botUsername != "" {
			lines = append(lines, t.Tf("referral.link", referralLink(botUsername, info.Code)))
		}
		lines = append(lines, t.Tf("referral.progress", info.Count, info.Remaining))

		return c.Send(strings.Join(lines, "\n"))
	}
}

// referralLink opens the bot with code as the /start payload.
func referralLink(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", strings.TrimPrefix(botUsername, "@"), code)
}
