package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/bot/handlers"
	"github.com/Proton-105/stalk-bot/pkg/metrics"
)

// Metrics measures execution time and status for bot handlers, reporting them to Prometheus.
func Metrics(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordCommand(extractCommandName(c), status, time.Since(start))

		return err
	}
}

// extractCommandName keeps label cardinality bounded: commands and callback
// prefixes are reported, free text is not.
func extractCommandName(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil {
		data := strings.TrimPrefix(cb.Data, "\f")
		if idx := strings.IndexAny(data, "|:"); idx >= 0 {
			data = data[:idx]
		}
		if data != "" {
			return "cb_" + data
		}
		return "callback"
	}

	text := strings.TrimSpace(c.Text())
	if strings.HasPrefix(text, "/") {
		command := strings.Fields(text)[0]
		if at := strings.Index(command, "@"); at > 0 {
			command = command[:at]
		}
		return command
	}
	if text != "" {
		return "text"
	}

	return "unknown"
}
