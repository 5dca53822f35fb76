// Package handlers processes asynq tasks.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/stalk-bot/internal/jobs"
	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/internal/rewards"
	"github.com/Proton-105/stalk-bot/pkg/metrics"
)

// RewardNotifier tells an inviter about an earned premium extension.
type RewardNotifier interface {
	NotifyReward(ctx context.Context, grant *rewards.Grant) error
}

// ReferralRewardHandler pays out the referral milestones an inviter has reached.
type ReferralRewardHandler struct {
	policy   *rewards.Policy
	notifier RewardNotifier
	log      *slog.Logger
}

// NewReferralRewardHandler builds the handler. notifier may be nil.
func NewReferralRewardHandler(policy *rewards.Policy, notifier RewardNotifier, log *slog.Logger) *ReferralRewardHandler {
	if log == nil {
		log = slog.Default()
	}

	return &ReferralRewardHandler{policy: policy, notifier: notifier, log: log}
}

// ProcessTask retries on storage outages and drops anything else.
func (h *ReferralRewardHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.ReferralRewardPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "referral reward: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	grant, err := h.policy.Apply(ctx, payload.InviterID)
	if err != nil {
		if errors.Is(err, ledger.ErrStorageUnavailable) {
			return err
		}
		return fmt.Errorf("apply reward for %d: %v: %w", payload.InviterID, err, asynq.SkipRetry)
	}
	if grant == nil {
		return nil
	}

	metrics.RecordReferralReward()

	if h.notifier != nil {
		if err := h.notifier.NotifyReward(ctx, grant); err != nil {
			h.log.WarnContext(ctx, "referral reward: notification failed", slog.Int64("inviter_id", grant.UserID), slog.Any("error", err))
		}
	}

	return nil
}
