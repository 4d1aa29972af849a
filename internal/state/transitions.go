package state

// validTransitions contains the permitted forward transitions of the payment
// conversation. Returning to idle is always allowed (cancel, terminal bill).
var validTransitions = map[State][]State{
	StateIdle: {
		StateAwaitingAmount,
	},
	StateAwaitingAmount: {
		// Self-transition covers invalid-amount re-prompts.
		StateAwaitingAmount,
		StateAwaitingConfirmation,
		StateIdle,
	},
	StateAwaitingConfirmation: {
		StateIdle,
	},
}

// IsTransitionAllowed reports whether moving from one state to another is valid.
func IsTransitionAllowed(from, to State) bool {
	if to == StateIdle {
		return true
	}

	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == to {
			return true
		}
	}

	return false
}
