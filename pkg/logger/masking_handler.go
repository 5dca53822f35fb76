package logger

import (
	"context"
	"log/slog"
	"strings"
)

const maskedValue = "***"

// Keys whose values never reach a sink: secrets from config plus the
// user-supplied reveal target.
var sensitiveKeys = map[string]struct{}{
	"password":    {},
	"token":       {},
	"secret":      {},
	"dsn":         {},
	"credentials": {},
	"target":      {},
}

// MaskingHandler replaces sensitive attribute values, including those bound
// with Logger.With and those nested in groups.
type MaskingHandler struct {
	next slog.Handler
}

func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		masked[i] = mask(attr)
	}
	return &MaskingHandler{next: h.next.WithAttrs(masked)}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(mask(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func mask(attr slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, maskedValue)
	}

	if attr.Value.Kind() != slog.KindGroup {
		return attr
	}

	group := attr.Value.Group()
	masked := make([]slog.Attr, len(group))
	for i, inner := range group {
		masked[i] = mask(inner)
	}
	return slog.Attr{Key: attr.Key, Value: slog.GroupValue(masked...)}
}
