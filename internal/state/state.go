package state

import "time"

// State represents a payment conversation state.
type State string

const (
	// StateIdle indicates that the bot is waiting for the next user command.
	StateIdle State = "idle"
	// StateAwaitingAmount indicates that the user is entering the top-up amount.
	StateAwaitingAmount State = "awaiting_amount"
	// StateAwaitingConfirmation indicates that a bill is open and the user has yet to pay it.
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

// PendingBill holds the open bill tracked by a session. Amount and BillID
// are always set together.
type PendingBill struct {
	Amount int64  `json:"amount"`
	BillID string `json:"bill_id"`
}

// Session captures the payment conversation state for a Telegram user.
type Session struct {
	UserID        int64     `json:"user_id"`
	CurrentState  State     `json:"current_state"`
	PendingAmount int64     `json:"pending_amount,omitempty"`
	PendingBillID string    `json:"pending_bill_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasPendingBill reports whether the session tracks an open bill.
func (s *Session) HasPendingBill() bool {
	return s != nil && s.PendingBillID != "" && s.PendingAmount > 0
}

// Pending returns the tracked bill, or nil when the session has none.
func (s *Session) Pending() *PendingBill {
	if !s.HasPendingBill() {
		return nil
	}

	return &PendingBill{Amount: s.PendingAmount, BillID: s.PendingBillID}
}
