package bot

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/stalk-bot/internal/errors"
	"github.com/Proton-105/stalk-bot/pkg/logger"
)

// RecoveryMiddleware catches panics, reports them via the centralized handler, and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *apperrors.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))

					userMsg := apperrors.DefaultUserMessage
					if errHandler != nil {
						if msg, _ := errHandler.Handle(handlers.RequestContext(c), fmt.Errorf("panic recovered: %v", r)); msg != "" {
							userMsg = msg
						}
					}

					if sendErr := c.Send(userMsg); sendErr != nil {
						log.Error("failed to notify user about panic", slog.Any("error", sendErr))
					}

					err = nil
				}
			}()

			return next(c)
		}
	}
}

// CorrelationMiddleware attaches a request context carrying a fresh
// correlation ID to the update.
func CorrelationMiddleware(next handlers.Handler) handlers.Handler {
	return func(c telebot.Context) error {
		handlers.WithRequestContext(c, logger.WithCorrelationID(handlers.RequestContext(c)))
		return next(c)
	}
}

// ErrorHandlingMiddleware centralizes error reporting and user messaging for handler failures.
func ErrorHandlingMiddleware(errHandler *apperrors.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			userMsg := apperrors.DefaultUserMessage
			if errHandler != nil {
				if msg, _ := errHandler.Handle(handlers.RequestContext(c), err); msg != "" {
					userMsg = msg
				}
			}

			if c.Callback() != nil {
				_ = c.Respond()
			}
			_ = c.Send(userMsg)

			return nil
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming updates. Free text
// is never logged since it may carry credentials.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			start := time.Now()
			ctx := handlers.RequestContext(c)

			userID := int64(0)
			if c.Sender() != nil {
				userID = c.Sender().ID
			}

			action := "text"
			if cb := c.Callback(); cb != nil {
				action = "callback:" + cb.Data
			} else if cmd := handlers.CommandName(c.Text()); cmd != "" {
				action = cmd
			}

			log.DebugContext(ctx, "handling update", slog.Int64("user_id", userID), slog.String("action", action))
			err := next(c)
			log.InfoContext(ctx, "handled update",
				slog.Int64("user_id", userID),
				slog.String("action", action),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)

			return err
		}
	}
}

// AuthMiddleware ensures that each incoming update is associated with a
// ledger record. /start is skipped: it registers the user itself so an
// invite code in its payload can still be credited.
func AuthMiddleware(svc handlers.UserService, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			sender := c.Sender()
			if svc == nil || sender == nil || sender.IsBot {
				return next(c)
			}
			if c.Callback() == nil && handlers.CommandName(c.Text()) == CommandStart {
				return next(c)
			}

			ctx := handlers.RequestContext(c)
			created, err := svc.Register(ctx, sender.ID, sender.Username)
			if err != nil {
				log.ErrorContext(ctx, "failed to register user", slog.Int64("user_id", sender.ID), slog.Any("error", err))
				return err
			}
			if created {
				log.InfoContext(ctx, "registered user on first update", slog.Int64("user_id", sender.ID))
			}

			return next(c)
		}
	}
}
