// Package payment drives the top-up conversation: collecting an amount,
// opening a bill at the gateway and settling it into the ledger.
package payment

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Proton-105/topup-bot/internal/errors"
	"github.com/Proton-105/topup-bot/internal/gateway"
	"github.com/Proton-105/topup-bot/internal/ledger"
	"github.com/Proton-105/topup-bot/internal/state"
	"github.com/Proton-105/topup-bot/pkg/metrics"
)

// ErrInvalidAmount indicates that the user's amount message could not be
// parsed into a positive whole number. The conversation stays in
// awaiting_amount so the user can simply try again.
var ErrInvalidAmount = errors.New("amount must be a positive whole number")

// Outcome classifies the result of resolving a pending bill.
type Outcome string

const (
	OutcomeWaiting  Outcome = "waiting"
	OutcomePaid     Outcome = "paid"
	OutcomeRejected Outcome = "rejected"
	OutcomeExpired  Outcome = "expired"
)

// Resolution is the result of checking a pending bill. NewBalance is only
// meaningful when Outcome is OutcomePaid.
type Resolution struct {
	Outcome    Outcome
	Amount     int64
	NewBalance int64
}

// Service implements the payment conversation over the FSM, the gateway
// client and the balance ledger. Every operation runs under the per-user
// session lock, so a burst of events from one user is processed one turn
// at a time.
type Service struct {
	fsm          state.Machine
	gateway      gateway.Client
	ledger       ledger.Ledger
	log          *slog.Logger
	billLifetime time.Duration
}

// NewService wires the conversation service together.
func NewService(fsm state.Machine, gw gateway.Client, lg ledger.Ledger, log *slog.Logger, billLifetime time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	if billLifetime <= 0 {
		billLifetime = 5 * time.Minute
	}

	return &Service{
		fsm:          fsm,
		gateway:      gw,
		ledger:       lg,
		log:          log,
		billLifetime: billLifetime,
	}
}

// BeginTopUp moves the user into the awaiting_amount state.
func (s *Service) BeginTopUp(ctx context.Context, userID int64) error {
	return s.fsm.WithLock(ctx, userID, func(ctx context.Context) error {
		return s.fsm.SetState(ctx, userID, state.StateAwaitingAmount, nil)
	})
}

// ParseAmount converts the user's text into a positive whole amount.
func ParseAmount(text string) (int64, error) {
	amount, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || amount <= 0 {
		return 0, ErrInvalidAmount
	}

	return amount, nil
}

// CreateBill parses the amount message, opens a bill at the gateway and
// advances the conversation to awaiting_confirmation. On any failure the
// session is left untouched: a bad amount or an unreachable gateway keeps
// the user in awaiting_amount, free to retry.
func (s *Service) CreateBill(ctx context.Context, userID int64, text string) (*gateway.Bill, error) {
	amount, err := ParseAmount(text)
	if err != nil {
		return nil, err
	}

	var bill *gateway.Bill
	err = s.fsm.WithLock(ctx, userID, func(ctx context.Context) error {
		billID := gateway.BillID(userID, amount)

		opened, openErr := s.gateway.OpenBill(ctx, billID, amount, s.billLifetime)
		if openErr != nil {
			return openErr
		}

		setErr := s.fsm.SetState(ctx, userID, state.StateAwaitingConfirmation, &state.PendingBill{
			Amount: amount,
			BillID: opened.BillID,
		})
		if setErr != nil {
			return setErr
		}

		metrics.RecordBillOpened()
		s.log.Info("bill opened",
			slog.Int64("user_id", userID),
			slog.Int64("amount", amount),
			slog.String("bill_id", opened.BillID),
		)

		bill = opened
		return nil
	})
	if err != nil {
		return nil, err
	}

	return bill, nil
}

// ResolveBill checks the pending bill's status and settles it.
//
// On PAID the ledger is credited first; only after the credit is confirmed
// is the session cleared. A ledger failure keeps the session intact, so the
// user can press the confirmation button again and no payment is lost. An
// unrecognized status is reported as an error and also keeps the session.
func (s *Service) ResolveBill(ctx context.Context, userID int64) (*Resolution, error) {
	var resolution *Resolution
	err := s.fsm.WithLock(ctx, userID, func(ctx context.Context) error {
		session, err := s.fsm.GetState(ctx, userID)
		if err != nil {
			if errors.Is(err, state.ErrStateNotFound) {
				return apperrors.NewStateError("no pending bill to resolve")
			}
			return err
		}

		pending := session.Pending()
		if pending == nil {
			return apperrors.NewStateError("no pending bill to resolve")
		}

		status, err := s.gateway.CheckBill(ctx, pending.BillID)
		if err != nil {
			return err
		}

		metrics.RecordBillCheck(string(status))

		switch status {
		case gateway.StatusWaiting:
			resolution = &Resolution{Outcome: OutcomeWaiting, Amount: pending.Amount}
			return nil

		case gateway.StatusPaid:
			account, creditErr := s.ledger.Credit(ctx, userID, pending.Amount)
			if creditErr != nil {
				s.log.Error("credit failed for paid bill, keeping session",
					slog.Int64("user_id", userID),
					slog.String("bill_id", pending.BillID),
					slog.Any("error", creditErr),
				)
				return creditErr
			}

			metrics.RecordCredit(pending.Amount)

			if clearErr := s.fsm.ClearState(ctx, userID); clearErr != nil {
				// The money is already credited; surfacing an error here
				// would read as a failed payment. Redelivered callbacks
				// are absorbed by update idempotency and the session TTL
				// bounds how long the stale session lingers.
				s.log.Error("failed to clear session after credit",
					slog.Int64("user_id", userID),
					slog.String("bill_id", pending.BillID),
					slog.Any("error", clearErr),
				)
			}

			s.log.Info("payment settled",
				slog.Int64("user_id", userID),
				slog.String("bill_id", pending.BillID),
				slog.Int64("amount", pending.Amount),
				slog.Int64("new_balance", account.Amount),
			)

			resolution = &Resolution{Outcome: OutcomePaid, Amount: pending.Amount, NewBalance: account.Amount}
			return nil

		case gateway.StatusRejected, gateway.StatusExpired:
			if clearErr := s.fsm.ClearState(ctx, userID); clearErr != nil {
				return clearErr
			}

			outcome := OutcomeRejected
			if status == gateway.StatusExpired {
				outcome = OutcomeExpired
			}

			resolution = &Resolution{Outcome: outcome, Amount: pending.Amount}
			return nil

		default:
			return apperrors.NewUnknownStatusError(string(status))
		}
	})
	if err != nil {
		return nil, err
	}

	return resolution, nil
}

// Cancel aborts the conversation. A pending bill is rejected at the gateway
// on a best effort basis, then the session is cleared. It reports whether
// there was anything to cancel.
func (s *Service) Cancel(ctx context.Context, userID int64) (bool, error) {
	cancelled := false
	err := s.fsm.WithLock(ctx, userID, func(ctx context.Context) error {
		session, err := s.fsm.GetState(ctx, userID)
		if err != nil {
			if errors.Is(err, state.ErrStateNotFound) {
				return nil
			}
			return err
		}

		if pending := session.Pending(); pending != nil {
			if rejectErr := s.gateway.RejectBill(ctx, pending.BillID); rejectErr != nil {
				// Cancellation must still succeed locally; an unreachable
				// gateway only means the bill expires on its own.
				s.log.Warn("failed to reject bill on cancel",
					slog.Int64("user_id", userID),
					slog.String("bill_id", pending.BillID),
					slog.Any("error", rejectErr),
				)
			}
		}

		if err := s.fsm.ClearState(ctx, userID); err != nil {
			return err
		}

		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return cancelled, nil
}

// Balance reads the user's current balance from the ledger.
func (s *Service) Balance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}

	return account.Amount, nil
}
