package handlers

import (
	"strings"

	telebot "gopkg.in/telebot.v3"
)

const dateLayout = "02.01.2006 15:04"

// NewProfileHandler returns a handler for the /profile command.
func NewProfileHandler(svc UserService, locales Locales) Handler {
	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}

		profile, err := svc.Profile(RequestContext(c), sender.ID)
		if err != nil {
			return err
		}

		t := translator(locales, c)
		lines := []string{
			t.T("profile.header"),
			t.Tf("profile.quota", profile.User.FreeQuota),
		}
		if profile.Premium && profile.User.PremiumUntil != nil {
			lines = append(lines, t.Tf("profile.premium_until", profile.User.PremiumUntil.Format(dateLayout)))
		} else {
			lines = append(lines, t.T("profile.premium_none"))
		}
		lines = append(lines, t.Tf("profile.referrals", profile.Referrals))

		return c.Send(strings.Join(lines, "\n"))
	}
}
