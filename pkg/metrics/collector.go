package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/Proton-105/stalk-bot/internal/state"
)

// Reported even when empty so dashboards see a zero rather than a gap.
var trackedStates = []state.State{
	state.StateIdle,
	state.StateAwaitingTarget,
	state.StateAdminLogin,
	state.StateAdmin,
	state.StateError,
}

// StateCollector periodically counts stored conversations per state.
type StateCollector struct {
	fsm      state.StateMachine
	log      *slog.Logger
	interval time.Duration
}

func NewStateCollector(fsm state.StateMachine, log *slog.Logger, interval time.Duration) *StateCollector {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StateCollector{fsm: fsm, log: log, interval: interval}
}

// Run collects immediately and then every interval until ctx is cancelled.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.fsm == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.collect(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("state metrics collection failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *StateCollector) collect(ctx context.Context) error {
	states, err := c.fsm.GetAllStates(ctx)
	if err != nil {
		return err
	}

	counts := make(map[string]int, len(trackedStates))
	for _, tracked := range trackedStates {
		counts[string(tracked)] = 0
	}
	for _, st := range states {
		if st == nil {
			continue
		}
		counts[label(string(st.CurrentState))]++
	}

	conversationsByState.Reset()
	for name, n := range counts {
		conversationsByState.WithLabelValues(name).Set(float64(n))
	}
	activeConversations.Set(float64(len(states)))

	return nil
}
