// Package gateway talks to the QIWI P2P bill API.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a bill as reported by the gateway.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusPaid     Status = "PAID"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
	// StatusUnknown marks any value outside the documented set. It is never
	// folded into one of the four real statuses; callers must handle it
	// explicitly.
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus maps a raw gateway value onto the status enum.
func ParseStatus(raw string) Status {
	switch Status(raw) {
	case StatusWaiting, StatusPaid, StatusRejected, StatusExpired:
		return Status(raw)
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status ends the bill's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusRejected || s == StatusExpired
}

// Bill is the gateway's view of an opened bill.
type Bill struct {
	BillID string
	PayURL string
}

// Client abstracts the payment gateway operations used by the conversation.
type Client interface {
	// OpenBill creates a bill with the given identifier, amount and lifetime.
	OpenBill(ctx context.Context, billID string, amount int64, lifetime time.Duration) (*Bill, error)
	// CheckBill returns the current bill status. Unrecognized values come
	// back as StatusUnknown, never as an error.
	CheckBill(ctx context.Context, billID string) (Status, error)
	// RejectBill cancels an open bill.
	RejectBill(ctx context.Context, billID string) error
}

// billNamespace salts deterministic bill identifiers.
var billNamespace = uuid.MustParse("b4f1a6d0-52ce-44a1-9c7e-3f0cf0d9a2e7")

// BillID derives a stable bill identifier from the user and amount, so a
// retried open after a transport failure reuses the same id and the gateway
// can deduplicate instead of double-billing.
func BillID(userID, amount int64) string {
	return uuid.NewSHA1(billNamespace, []byte(fmt.Sprintf("%d:%d", userID, amount))).String()
}
