package state

// validTransitions lists the permitted transitions besides the reset to idle
// or error, which is always allowed.
var validTransitions = map[State][]State{
	StateIdle: {
		StateAwaitingTarget,
		StateAdminLogin,
	},
	StateAwaitingTarget: {
		StateAwaitingTarget,
		StateAdminLogin,
	},
	StateAdminLogin: {
		StateAdmin,
		StateAdminLogin,
	},
	StateAdmin: {
		StateAwaitingTarget,
		StateAdminLogin,
	},
}

// IsTransitionAllowed reports whether moving from one state to another is valid.
func IsTransitionAllowed(from, to State) bool {
	if to == StateError || to == StateIdle {
		return true
	}

	for _, state := range validTransitions[from] {
		if state == to {
			return true
		}
	}

	return false
}
