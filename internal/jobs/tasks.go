// Package jobs runs ledger work outside the update handlers on asynq.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeReferralReward = "referral:reward"
	TaskTypeLedgerStats    = "ledger:stats"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues lists queue weights for the worker.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// ReferralRewardPayload names the referral edge that triggered the task.
// The handler re-reads the inviter's total; milestones already paid out are
// tracked by the ledger.
type ReferralRewardPayload struct {
	InviterID int64 `json:"inviter_id"`
	InviteeID int64 `json:"invitee_id"`
}

// NewReferralRewardTask builds the reward task. The task ID makes a
// re-enqueue of the same referral a no-op.
func NewReferralRewardTask(inviterID, inviteeID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(ReferralRewardPayload{
		InviterID: inviterID,
		InviteeID: inviteeID,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeReferralReward, payload,
		asynq.Queue(QueueCritical),
		asynq.TaskID(ReferralRewardTaskID(inviterID, inviteeID)),
		asynq.MaxRetry(10),
		asynq.Retention(24*time.Hour),
	), nil
}

// ReferralRewardTaskID identifies the reward task of one referral edge.
func ReferralRewardTaskID(inviterID, inviteeID int64) string {
	return fmt.Sprintf("referral:%d:%d", inviterID, inviteeID)
}

// NewLedgerStatsTask builds the periodic stats snapshot task.
func NewLedgerStatsTask() *asynq.Task {
	return asynq.NewTask(TaskTypeLedgerStats, nil, asynq.Queue(QueueLow), asynq.MaxRetry(0))
}
