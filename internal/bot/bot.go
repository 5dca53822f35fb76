package bot

import (
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/bot/handlers"
	"github.com/Proton-105/stalk-bot/internal/bot/keyboard"
	apperrors "github.com/Proton-105/stalk-bot/internal/errors"
	"github.com/Proton-105/stalk-bot/internal/idempotency"
	"github.com/Proton-105/stalk-bot/internal/middleware"
	"github.com/Proton-105/stalk-bot/internal/ratelimit"
	"github.com/Proton-105/stalk-bot/internal/state"
	"github.com/Proton-105/stalk-bot/pkg/config"
)

// updateTTL is how long a processed update ID is remembered. Telegram
// redelivers unacknowledged updates well within this window.
const updateTTL = 24 * time.Hour

// Bot wraps telebot.Bot with application dependencies required for handling updates.
type Bot struct {
	telebot     *telebot.Bot
	log         *slog.Logger
	cfg         config.Config
	fsm         state.StateMachine
	rateLimitMw *middleware.RateLimitMiddleware
	router      *Router
	dispatcher  *Dispatcher
	keyboard    *keyboard.Builder
	errHandler  *apperrors.Handler
	locales     handlers.Locales
	userService handlers.UserService
	idempotency idempotency.Manager
}

// New builds a telegram bot instance configured according to the application settings.
func New(
	cfg config.Config,
	log *slog.Logger,
	fsm state.StateMachine,
	idempotencyManager idempotency.Manager,
	rateLimitMw *middleware.RateLimitMiddleware,
	userService handlers.UserService,
	locales handlers.Locales,
	errHandler *apperrors.Handler,
) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	settings := telebot.Settings{
		Token: cfg.Bot.Token,
		OnError: func(err error, c telebot.Context) {
			log.Error("telebot error", slog.Any("error", err))
		},
	}

	if cfg.Bot.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen:   cfg.Bot.WebhookListen,
			Endpoint: &telebot.WebhookEndpoint{PublicURL: cfg.Bot.WebhookURL},
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Bot.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	if cfg.Bot.Username == "" && tb.Me != nil {
		cfg.Bot.Username = tb.Me.Username
	}

	b := newBot(tb, cfg, log, fsm, idempotencyManager, rateLimitMw, userService, locales, errHandler)
	b.registerTelebotHandlers()

	return b, nil
}

func newBot(
	tb *telebot.Bot,
	cfg config.Config,
	log *slog.Logger,
	fsm state.StateMachine,
	idempotencyManager idempotency.Manager,
	rateLimitMw *middleware.RateLimitMiddleware,
	userService handlers.UserService,
	locales handlers.Locales,
	errHandler *apperrors.Handler,
) *Bot {
	if errHandler == nil {
		errHandler = apperrors.NewHandler(log, cfg.Sentry.Enabled)
	}

	dispatcher := NewDispatcher(fsm, log)
	b := &Bot{
		telebot:     tb,
		log:         log,
		cfg:         cfg,
		fsm:         fsm,
		rateLimitMw: rateLimitMw,
		router:      NewRouter(dispatcher, log),
		dispatcher:  dispatcher,
		keyboard:    keyboard.NewBuilder(log),
		errHandler:  errHandler,
		locales:     locales,
		userService: userService,
		idempotency: idempotencyManager,
	}

	b.setupRouter()
	return b
}

// Telebot exposes the underlying client for health checks and notifications.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// Start runs the telegram bot event loop. It blocks until Stop is called.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.log.Info("starting telegram bot", slog.String("mode", b.cfg.Bot.Mode), slog.String("username", b.cfg.Bot.Username))
		b.telebot.Start()
	}
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

func (b *Bot) setupRouter() {
	b.router.Use(RecoveryMiddleware(b.log, b.errHandler))
	b.router.Use(CorrelationMiddleware)
	b.router.Use(ErrorHandlingMiddleware(b.errHandler))
	b.router.Use(middleware.Idempotency(b.idempotency, updateTTL, b.log))
	b.router.Use(LoggingMiddleware(b.log))
	if b.rateLimitMw != nil {
		b.router.Use(b.rateLimitMw.Handle)
	}
	b.router.Use(AuthMiddleware(b.userService, b.log))
	b.router.Use(middleware.Metrics)

	admin := handlers.NewAdmin(b.userService, b.fsm, b.locales, b.cfg.Admin, b.log)
	cancel := handlers.NewCancelHandler(b.fsm, b.locales, b.keyboard, b.log)

	b.router.RegisterCommand(CommandStart, handlers.NewStartHandler(b.userService, b.locales, b.keyboard, b.log))
	b.router.RegisterCommand(CommandCancel, cancel)
	b.router.RegisterCommand(CommandProfile, handlers.NewProfileHandler(b.userService, b.locales))
	b.router.RegisterCommand(CommandPayment, b.limit(ratelimit.ActionPayment, handlers.NewPaymentHandler(b.locales)))
	b.router.RegisterCommand(CommandPaymentMethods, b.limit(ratelimit.ActionPayment, handlers.NewPaymentMethodsHandler(b.cfg.Pricing, b.locales)))
	b.router.RegisterCommand(CommandAdminLogin, admin.Login)
	b.router.RegisterCommand(CommandGrant, admin.Grant)
	b.router.RegisterCommand(CommandStats, admin.Stats)

	b.router.RegisterCallback(keyboard.CallbackSeeStalkers, handlers.CallbackHandler(b.limit(ratelimit.ActionReveal,
		handlers.Handler(handlers.NewRevealHandler(b.userService, b.fsm, b.locales, b.keyboard, b.log)))))
	b.router.RegisterCallback(keyboard.CallbackPricing, handlers.NewPricingHandler(b.cfg.Pricing, b.locales))
	b.router.RegisterCallback(keyboard.CallbackReferral, handlers.CallbackHandler(b.limit(ratelimit.ActionReferral,
		handlers.Handler(handlers.NewReferralHandler(b.userService, b.locales, b.cfg.Bot.Username)))))
	b.router.RegisterCallback(keyboard.CallbackCancel, handlers.CallbackHandler(cancel))

	b.dispatcher.RegisterStateHandler(state.StateAwaitingTarget, handlers.NewTargetHandler(b.userService, b.fsm, b.locales, b.keyboard, b.log))
	b.dispatcher.RegisterStateHandler(state.StateAdminLogin, admin.Authenticate)

	b.router.SetDefault(b.fallback)
}

// limit applies a per-action rate limit when one is configured.
func (b *Bot) limit(action string, h handlers.Handler) handlers.Handler {
	if b.rateLimitMw == nil {
		return h
	}
	return b.rateLimitMw.Action(action, h)
}

// fallback answers unknown commands and free text outside a conversation.
func (b *Bot) fallback(c telebot.Context) error {
	t := b.locales.Translator("")
	if sender := c.Sender(); sender != nil {
		t = b.locales.Translator(sender.LanguageCode)
	}

	if handlers.CommandName(c.Text()) != "" {
		return c.Send(t.T("common.unknown_command"))
	}
	return c.Send(t.T("common.use_menu"), b.keyboard.MainMenu(t))
}

func (b *Bot) registerTelebotHandlers() {
	if b.telebot == nil || b.router == nil {
		return
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)
}
