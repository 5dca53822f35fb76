package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/stalk-bot/internal/errors"
	"github.com/Proton-105/stalk-bot/internal/state"
	"github.com/Proton-105/stalk-bot/internal/user"
	"github.com/Proton-105/stalk-bot/pkg/config"
)

// MaxLoginAttempts is how many wrong credential messages end the login flow.
const MaxLoginAttempts = 3

const credentialsPrefix = "admin:"

// Admin groups the admin-only flows: login, premium grants and stats.
type Admin struct {
	svc     UserService
	fsm     state.StateMachine
	locales Locales
	creds   config.AdminConfig
	log     *slog.Logger
}

func NewAdmin(svc UserService, fsm state.StateMachine, locales Locales, creds config.AdminConfig, log *slog.Logger) *Admin {
	if log == nil {
		log = slog.Default()
	}
	return &Admin{svc: svc, fsm: fsm, locales: locales, creds: creds, log: log}
}

// Login answers /justadmin by asking for credentials.
func (a *Admin) Login(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if err := a.fsm.TransitionTo(RequestContext(c), sender.ID, state.StateAdminLogin); err != nil {
		return apperrors.NewStateError(err.Error())
	}
	return c.Send(translator(a.locales, c).T("admin.ask_credentials"))
}

// Authenticate handles the message sent in the admin_login state. The
// expected form is admin:<user>:<pass>.
func (a *Admin) Authenticate(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ctx := RequestContext(c)
	t := translator(a.locales, c)

	// Credentials should not stay in the chat history.
	_ = c.Delete()

	if a.checkCredentials(c.Text()) {
		if err := a.fsm.TransitionTo(ctx, sender.ID, state.StateAdmin); err != nil {
			return apperrors.NewStateError(err.Error())
		}
		a.log.InfoContext(ctx, "admin logged in", slog.Int64("user_id", sender.ID))
		return c.Send(t.T("admin.welcome"))
	}

	current, err := a.fsm.GetState(ctx, sender.ID)
	if err != nil {
		return apperrors.NewStateError(err.Error())
	}
	attempts := contextInt(current.Context, state.ContextAttempt) + 1
	a.log.WarnContext(ctx, "admin login failed", slog.Int64("user_id", sender.ID), slog.Int("attempt", attempts))

	if attempts >= MaxLoginAttempts {
		if err := a.fsm.ClearState(ctx, sender.ID); err != nil {
			return apperrors.NewStateError(err.Error())
		}
		return apperrors.NewUnauthorizedError("too many admin login attempts")
	}

	if err := a.fsm.SetState(ctx, sender.ID, state.StateAdminLogin, map[string]interface{}{
		state.ContextAttempt: attempts,
	}); err != nil {
		return apperrors.NewStateError(err.Error())
	}
	return c.Send(t.T("admin.invalid_credentials"))
}

// Grant answers /grant <user_id> <days>.
func (a *Admin) Grant(c telebot.Context) error {
	if err := a.requireAdmin(c); err != nil {
		return err
	}

	t := translator(a.locales, c)
	args := Args(c)
	if len(args) != 2 {
		return c.Send(t.T("admin.grant_usage"))
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || userID <= 0 {
		return c.Send(t.T("admin.grant_usage"))
	}
	days, err := strconv.Atoi(args[1])
	if err != nil {
		return c.Send(t.T("admin.grant_usage"))
	}

	until, err := a.svc.GrantPremium(RequestContext(c), userID, days)
	if errors.Is(err, user.ErrUnknownUser) {
		return c.Send(t.T("admin.unknown_user"))
	}
	if err != nil {
		return err
	}

	return c.Send(t.Tf("admin.granted", userID, until.Format(dateLayout)))
}

// Stats answers /stats with the ledger totals.
func (a *Admin) Stats(c telebot.Context) error {
	if err := a.requireAdmin(c); err != nil {
		return err
	}

	stats, err := a.svc.Stats(RequestContext(c))
	if err != nil {
		return err
	}

	return c.Send(translator(a.locales, c).Tf("admin.stats", stats.Users, stats.PremiumActive, stats.Referrals, stats.Queries))
}

func (a *Admin) requireAdmin(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return apperrors.NewUnauthorizedError("admin command without sender")
	}

	current, err := a.fsm.GetState(RequestContext(c), sender.ID)
	if err != nil {
		return apperrors.NewStateError(err.Error())
	}
	if !current.Is(state.StateAdmin) {
		return apperrors.NewUnauthorizedError(fmt.Sprintf("user %d is not an admin", sender.ID))
	}
	return nil
}

func (a *Admin) checkCredentials(text string) bool {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, credentialsPrefix) {
		return false
	}

	username, password, ok := strings.Cut(strings.TrimPrefix(text, credentialsPrefix), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.creds.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.creds.Password)) == 1
	return userOK && passOK && a.creds.Username != ""
}

// contextInt reads a counter back from a state context. JSON storage turns
// numbers into float64.
func contextInt(ctx map[string]interface{}, key string) int {
	switch v := ctx[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
