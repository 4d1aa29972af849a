// Package ledger maintains the durable per-user balance.
package ledger

import (
	"context"
	"errors"

	"github.com/Proton-105/topup-bot/internal/domain"
)

// ErrInvalidDelta indicates a credit with a non-positive amount.
var ErrInvalidDelta = errors.New("credit delta must be positive")

// Ledger defines the balance operations used by the payment conversation.
type Ledger interface {
	// Credit atomically adds delta to the user's balance, creating the row
	// when absent, and returns the updated account.
	Credit(ctx context.Context, userID, delta int64) (domain.Client, error)
	// Balance returns the current account, zero-valued when the user has
	// never been credited.
	Balance(ctx context.Context, userID int64) (domain.Client, error)
}
