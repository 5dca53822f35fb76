package state

import "time"

// State represents a finite-state machine state.
type State string

const (
	// StateIdle is the default: the user is browsing the main menu.
	StateIdle State = "idle"
	// StateAwaitingTarget means the next text message is the handle to reveal stalkers for.
	StateAwaitingTarget State = "awaiting_target"
	// StateAdminLogin means the next message should carry admin credentials.
	StateAdminLogin State = "admin_login"
	// StateAdmin marks an authenticated admin session.
	StateAdmin State = "admin"
	// StateError indicates that the bot is in an error state and requires recovery.
	StateError State = "error"
)

// Context keys stored alongside a state.
const (
	ContextBlurred = "blurred"
	ContextAttempt = "attempts"
)

// UserState captures the current FSM state for a Telegram user.
type UserState struct {
	UserID       int64                  `json:"user_id"`
	CurrentState State                  `json:"current_state"`
	Context      map[string]interface{} `json:"context"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Is reports whether the user is in s. A nil state is idle.
func (u *UserState) Is(s State) bool {
	if u == nil {
		return s == StateIdle
	}
	return u.CurrentState == s
}
