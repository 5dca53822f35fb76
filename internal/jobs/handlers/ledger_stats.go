package handlers

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/pkg/metrics"
)

// StatsSource is satisfied by every ledger.Store.
type StatsSource interface {
	Stats(ctx context.Context) (ledger.Stats, error)
}

// LedgerStatsHandler publishes ledger counters as Prometheus gauges.
type LedgerStatsHandler struct {
	store StatsSource
	log   *slog.Logger
}

func NewLedgerStatsHandler(store StatsSource, log *slog.Logger) *LedgerStatsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LedgerStatsHandler{store: store, log: log}
}

func (h *LedgerStatsHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		return err
	}

	metrics.SetLedgerStats(stats)
	h.log.DebugContext(ctx, "ledger stats published",
		slog.Int64("users", stats.Users),
		slog.Int64("premium_active", stats.PremiumActive),
		slog.Int64("referrals", stats.Referrals),
		slog.Int64("queries", stats.Queries),
	)
	return nil
}
