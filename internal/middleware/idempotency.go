package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/bot/handlers"
	"github.com/Proton-105/stalk-bot/internal/idempotency"
)

// Idempotency ensures handlers execute at most once per Telegram update.
func Idempotency(manager idempotency.Manager, ttl time.Duration, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler {
			return next
		}
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			key := extractIdempotencyKey(c)
			if key == "" {
				return next(c)
			}

			var (
				ran        bool
				handlerErr error
			)
			_, err := manager.Execute(handlers.RequestContext(c), key, ttl, func(context.Context) (interface{}, error) {
				ran = true
				handlerErr = next(c)
				return nil, handlerErr
			})

			switch {
			case errors.Is(err, idempotency.ErrRequestInProgress):
				log.Debug("duplicate update skipped", slog.String("key", key))
				return nil
			case ran:
				if err != nil && handlerErr == nil {
					log.Warn("failed to record handled update", slog.String("key", key), slog.Any("error", err))
				}
				return handlerErr
			case err != nil:
				// Store unavailable: handle the update rather than drop it.
				log.Warn("idempotency check failed", slog.String("key", key), slog.Any("error", err))
				return next(c)
			}

			return nil
		}
	}
}

func extractIdempotencyKey(c telebot.Context) string {
	if c == nil {
		return ""
	}

	if upd := c.Update(); upd.ID != 0 {
		return idempotency.UpdateKey("update", int64(upd.ID))
	}

	if cb := c.Callback(); cb != nil && cb.ID != "" {
		return idempotency.CallbackKey(cb.ID)
	}

	if msg := c.Message(); msg != nil && msg.ID != 0 {
		chatID := int64(0)
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		return idempotency.UpdateKey("msg", chatID, int64(msg.ID))
	}

	return ""
}
