// Package metrics exposes the Prometheus series of the stalk bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/stalk-bot/internal/ledger"
)

const namespace = "stalkbot"

const unknownLabel = "unknown"

var (
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_total",
		Help:      "Handled Telegram updates by command and outcome.",
	}, []string{"command", "status"})

	updateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "update_duration_seconds",
		Help:      "Time spent handling one update.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"command"})

	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "Conversation state changes.",
	}, []string{"from", "to"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Handled errors by code and severity.",
	}, []string{"code", "severity"})

	activeConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_conversations",
		Help:      "Stored conversation states.",
	})

	conversationsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conversations_by_state",
		Help:      "Stored conversation states per state.",
	}, []string{"state"})

	ledgerGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "rows",
		Help:      "Ledger totals from the last stats snapshot.",
	}, []string{"kind"})

	referralRewardsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "referral_rewards_total",
		Help:      "Premium grants earned through referral milestones.",
	})
)

func label(v string) string {
	if v == "" {
		return unknownLabel
	}
	return v
}

// RecordCommand counts one handled update and its latency.
func RecordCommand(command, status string, duration time.Duration) {
	command = label(command)
	updatesTotal.WithLabelValues(command, label(status)).Inc()
	updateDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordStateTransition matches the recorder hook of the state package.
func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(label(from), label(to)).Inc()
}

func RecordError(code, severity string) {
	errorsTotal.WithLabelValues(label(code), label(severity)).Inc()
}

func RecordReferralReward() {
	referralRewardsTotal.Inc()
}

// SetLedgerStats publishes a ledger snapshot.
func SetLedgerStats(stats ledger.Stats) {
	ledgerGauge.WithLabelValues("users").Set(float64(stats.Users))
	ledgerGauge.WithLabelValues("premium_active").Set(float64(stats.PremiumActive))
	ledgerGauge.WithLabelValues("referrals").Set(float64(stats.Referrals))
	ledgerGauge.WithLabelValues("queries").Set(float64(stats.Queries))
}
