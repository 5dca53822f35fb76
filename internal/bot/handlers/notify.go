package handlers

import (
	"context"
	"fmt"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/rewards"
)

// Sender is the part of telebot.Bot used for out-of-band messages.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// RewardNotifier tells an inviter that a referral reward was granted.
type RewardNotifier struct {
	sender  Sender
	locales Locales
}

func NewRewardNotifier(sender Sender, locales Locales) *RewardNotifier {
	return &RewardNotifier{sender: sender, locales: locales}
}

// NotifyReward messages the inviter in the default language; the worker has
// no update to read a language code from.
func (n *RewardNotifier) NotifyReward(_ context.Context, grant *rewards.Grant) error {
	if grant == nil {
		return nil
	}

	t := n.locales.Translator("")
	text := t.Tf("referral.rewarded", grant.Referrals, grant.Until.Format(dateLayout))
	if _, err := n.sender.Send(&telebot.User{ID: grant.UserID}, text); err != nil {
		return fmt.Errorf("notify reward to %d: %w", grant.UserID, err)
	}
	return nil
}
