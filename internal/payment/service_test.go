package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/topup-bot/internal/domain"
	apperrors "github.com/Proton-105/topup-bot/internal/errors"
	"github.com/Proton-105/topup-bot/internal/gateway"
	"github.com/Proton-105/topup-bot/internal/state"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) OpenBill(ctx context.Context, billID string, amount int64, lifetime time.Duration) (*gateway.Bill, error) {
	args := m.Called(ctx, billID, amount, lifetime)
	if bill, ok := args.Get(0).(*gateway.Bill); ok {
		return bill, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CheckBill(ctx context.Context, billID string) (gateway.Status, error) {
	args := m.Called(ctx, billID)
	return args.Get(0).(gateway.Status), args.Error(1)
}

func (m *mockGateway) RejectBill(ctx context.Context, billID string) error {
	args := m.Called(ctx, billID)
	return args.Error(0)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Credit(ctx context.Context, userID, delta int64) (domain.Client, error) {
	args := m.Called(ctx, userID, delta)
	return args.Get(0).(domain.Client), args.Error(1)
}

func (m *mockLedger) Balance(ctx context.Context, userID int64) (domain.Client, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.Client), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, state.Machine, *mockGateway, *mockLedger) {
	t.Helper()

	fsm := state.NewMachine(state.NewMemoryStorage(), testLogger(), nil)
	gw := &mockGateway{}
	lg := &mockLedger{}
	svc := NewService(fsm, gw, lg, testLogger(), 5*time.Minute)

	return svc, fsm, gw, lg
}

func requireState(t *testing.T, fsm state.Machine, userID int64, want state.State) {
	t.Helper()

	session, err := fsm.GetState(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, want, session.CurrentState)
}

func requireNoSession(t *testing.T, fsm state.Machine, userID int64) {
	t.Helper()

	_, err := fsm.GetState(context.Background(), userID)
	require.ErrorIs(t, err, state.ErrStateNotFound)
}

func awaitConfirmation(t *testing.T, fsm state.Machine, userID, amount int64, billID string) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, fsm.SetState(ctx, userID, state.StateAwaitingAmount, nil))
	require.NoError(t, fsm.SetState(ctx, userID, state.StateAwaitingConfirmation, &state.PendingBill{
		Amount: amount,
		BillID: billID,
	}))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain number", input: "500", want: 500},
		{name: "surrounding whitespace", input: "  500 ", want: 500},
		{name: "zero", input: "0", wantErr: true},
		{name: "negative", input: "-5", wantErr: true},
		{name: "fractional", input: "12.5", wantErr: true},
		{name: "text", input: "сто", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "overflow", input: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestService_BeginTopUp(t *testing.T) {
	svc, fsm, _, _ := newTestService(t)

	require.NoError(t, svc.BeginTopUp(context.Background(), 42))
	requireState(t, fsm, 42, state.StateAwaitingAmount)
}

func TestService_CreateBill_InvalidAmountLeavesState(t *testing.T) {
	svc, fsm, gw, _ := newTestService(t)
	require.NoError(t, svc.BeginTopUp(context.Background(), 42))

	_, err := svc.CreateBill(context.Background(), 42, "not-a-number")
	require.ErrorIs(t, err, ErrInvalidAmount)

	requireState(t, fsm, 42, state.StateAwaitingAmount)
	gw.AssertNotCalled(t, "OpenBill", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_CreateBill_GatewayFailureLeavesState(t *testing.T) {
	svc, fsm, gw, _ := newTestService(t)
	require.NoError(t, svc.BeginTopUp(context.Background(), 42))

	gwErr := apperrors.NewGatewayError(errors.New("connect refused"))
	gw.On("OpenBill", mock.Anything, mock.Anything, int64(500), 5*time.Minute).Return(nil, gwErr)

	_, err := svc.CreateBill(context.Background(), 42, "500")
	require.Error(t, err)

	requireState(t, fsm, 42, state.StateAwaitingAmount)
}

func TestService_CreateBill_Success(t *testing.T) {
	svc, fsm, gw, _ := newTestService(t)
	require.NoError(t, svc.BeginTopUp(context.Background(), 42))

	wantBillID := gateway.BillID(42, 500)
	gw.On("OpenBill", mock.Anything, wantBillID, int64(500), 5*time.Minute).
		Return(&gateway.Bill{BillID: wantBillID, PayURL: "https://oplata.qiwi.com/form?billId=" + wantBillID}, nil)

	bill, err := svc.CreateBill(context.Background(), 42, "500")
	require.NoError(t, err)
	require.Equal(t, wantBillID, bill.BillID)
	require.NotEmpty(t, bill.PayURL)

	session, err := fsm.GetState(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, state.StateAwaitingConfirmation, session.CurrentState)
	require.Equal(t, int64(500), session.PendingAmount)
	require.Equal(t, wantBillID, session.PendingBillID)
}

func TestService_ResolveBill_NoPendingBill(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.ResolveBill(context.Background(), 42)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "E400", appErr.Code)
}

func TestService_ResolveBill_WaitingKeepsSession(t *testing.T) {
	svc, fsm, gw, lg := newTestService(t)
	awaitConfirmation(t, fsm, 42, 500, "bill-1")

	gw.On("CheckBill", mock.Anything, "bill-1").Return(gateway.StatusWaiting, nil)

	res, err := svc.ResolveBill(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, OutcomeWaiting, res.Outcome)
	require.Equal(t, int64(500), res.Amount)

	requireState(t, fsm, 42, state.StateAwaitingConfirmation)
	lg.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ResolveBill_PaidCreditsThenClears(t *testing.T) {
	svc, fsm, gw, lg := newTestService(t)
	awaitConfirmation(t, fsm, 42, 500, "bill-1")

	gw.On("CheckBill", mock.Anything, "bill-1").Return(gateway.StatusPaid, nil)
	lg.On("Credit", mock.Anything, int64(42), int64(500)).
		Return(domain.Client{UserID: 42, Amount: 1500}, nil)

	res, err := svc.ResolveBill(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, res.Outcome)
	require.Equal(t, int64(500), res.Amount)
	require.Equal(t, int64(1500), res.NewBalance)

	requireNoSession(t, fsm, 42)
	lg.AssertNumberOfCalls(t, "Credit", 1)
}

func TestService_ResolveBill_LedgerFailureKeepsSession(t *testing.T) {
	svc, fsm, gw, lg := newTestService(t)
	awaitConfirmation(t, fsm, 42, 500, "bill-1")

	gw.On("CheckBill", mock.Anything, "bill-1").Return(gateway.StatusPaid, nil)
	lg.On("Credit", mock.Anything, int64(42), int64(500)).
		Return(domain.Client{}, apperrors.NewLedgerError(errors.New("connection reset")))

	_, err := svc.ResolveBill(context.Background(), 42)
	require.Error(t, err)

	// The session survives so the user can press the confirmation button
	// again; the payment is not lost.
	session, getErr := fsm.GetState(context.Background(), 42)
	require.NoError(t, getErr)
	require.Equal(t, state.StateAwaitingConfirmation, session.CurrentState)
	require.Equal(t, "bill-1", session.PendingBillID)
}

func TestService_ResolveBill_RetryAfterLedgerFailureCreditsOnce(t *testing.T) {
	svc, fsm, gw, lg := newTestService(t)
	awaitConfirmation(t, fsm, 42, 500, "bill-1")

	gw.On("CheckBill", mock.Anything, "bill-1").Return(gateway.StatusPaid, nil)
	lg.On("Credit", mock.Anything, int64(42), int64(500)).
		Return(domain.Client{}, apperrors.NewLedgerError(errors.New("timeout"))).Once()
	lg.On("Credit", mock.Anything, int64(42), int64(500)).
		Return(domain.Client{UserID: 42, Amount: 500}, nil).Once()

	_, err := svc.ResolveBill(context.Background(), 42)
	require.Error(t, err)

	res, err := svc.ResolveBill(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, res.Outcome)
	require.Equal(t, int64(500), res.NewBalance)

	requireNoSession(t, fsm, 42)
	lg.AssertNumberOfCalls(t, "Credit", 2)
}

func TestService_ResolveBill_TerminalFailuresClearWithoutCredit(t *testing.T) {
	tests := []struct {
		status  gateway.Status
		outcome Outcome
	}{
		{status: gateway.StatusRejected, outcome: OutcomeRejected},
		{status: gateway.StatusExpired, outcome: OutcomeExpired},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			svc, fsm, gw, lg := newTestService(t)
			awaitConfirmation(t, fsm, 42, 500, "bill-1")

			gw.On("CheckBill", mock.Anything, "bill-1").Return(tt.status, nil)

			res, err := svc.ResolveBill(context.Background(), 42)
			require.NoError(t, err)
			require.Equal(t, tt.outcome, res.Outcome)

			requireNoSession(t, fsm, 42)
			lg.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_ResolveBill_UnknownStatusKeepsSession(t *testing.T) {
	svc, fsm, gw, lg := newTestService(t)
	awaitConfirmation(t, fsm, 42, 500, "bill-1")

	gw.On("CheckBill", mock.Anything, "bill-1").Return(gateway.StatusUnknown, nil)

	_, err := svc.ResolveBill(context.Background(), 42)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "E310", appErr.Code)
	require.True(t, appErr.Retryable)

	requireState(t, fsm, 42, state.StateAwaitingConfirmation)
	lg.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ResolveBill_GatewayFailureKeepsSession(t *testing.T) {
	svc, fsm, gw, _ := newTestService(t)
	awaitConfirmation(t, fsm, 42, 500, "bill-1")

	gw.On("CheckBill", mock.Anything, "bill-1").
		Return(gateway.StatusUnknown, apperrors.NewGatewayError(errors.New("timeout")))

	_, err := svc.ResolveBill(context.Background(), 42)
	require.Error(t, err)

	requireState(t, fsm, 42, state.StateAwaitingConfirmation)
}

func TestService_Cancel_RejectsPendingBill(t *testing.T) {
	svc, fsm, gw, _ := newTestService(t)
	awaitConfirmation(t, fsm, 42, 500, "bill-1")

	gw.On("RejectBill", mock.Anything, "bill-1").Return(nil)

	cancelled, err := svc.Cancel(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, cancelled)

	requireNoSession(t, fsm, 42)
	gw.AssertCalled(t, "RejectBill", mock.Anything, "bill-1")
}

func TestService_Cancel_RejectFailureStillClears(t *testing.T) {
	svc, fsm, gw, _ := newTestService(t)
	awaitConfirmation(t, fsm, 42, 500, "bill-1")

	gw.On("RejectBill", mock.Anything, "bill-1").
		Return(apperrors.NewGatewayError(errors.New("timeout")))

	cancelled, err := svc.Cancel(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, cancelled)

	requireNoSession(t, fsm, 42)
}

func TestService_Cancel_WithoutPendingBill(t *testing.T) {
	svc, fsm, gw, _ := newTestService(t)
	require.NoError(t, svc.BeginTopUp(context.Background(), 42))

	cancelled, err := svc.Cancel(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, cancelled)

	requireNoSession(t, fsm, 42)
	gw.AssertNotCalled(t, "RejectBill", mock.Anything, mock.Anything)
}

func TestService_Cancel_NothingToCancel(t *testing.T) {
	svc, _, gw, _ := newTestService(t)

	cancelled, err := svc.Cancel(context.Background(), 42)
	require.NoError(t, err)
	require.False(t, cancelled)

	gw.AssertNotCalled(t, "RejectBill", mock.Anything, mock.Anything)
}

func TestService_Balance(t *testing.T) {
	svc, _, _, lg := newTestService(t)

	lg.On("Balance", mock.Anything, int64(42)).
		Return(domain.Client{UserID: 42, Amount: 700}, nil)

	balance, err := svc.Balance(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, int64(700), balance)
}

func TestService_ConcurrentTurnFailsFast(t *testing.T) {
	svc, fsm, gw, lg := newTestService(t)
	awaitConfirmation(t, fsm, 42, 500, "bill-1")

	holding := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = fsm.WithLock(context.Background(), 42, func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding

	// A second confirmation press while the first turn is in flight is
	// rejected instead of double-crediting.
	_, err := svc.ResolveBill(context.Background(), 42)
	require.ErrorIs(t, err, state.ErrStateLocked)

	close(release)
	lg.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "CheckBill", mock.Anything, mock.Anything)
}

func TestService_FullTopUpFlow(t *testing.T) {
	svc, fsm, gw, lg := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.BeginTopUp(ctx, 42))

	billID := gateway.BillID(42, 500)
	gw.On("OpenBill", mock.Anything, billID, int64(500), 5*time.Minute).
		Return(&gateway.Bill{BillID: billID, PayURL: "https://oplata.qiwi.com/form?billId=" + billID}, nil)
	gw.On("CheckBill", mock.Anything, billID).Return(gateway.StatusWaiting, nil).Once()
	gw.On("CheckBill", mock.Anything, billID).Return(gateway.StatusPaid, nil).Once()
	lg.On("Credit", mock.Anything, int64(42), int64(500)).
		Return(domain.Client{UserID: 42, Amount: 500}, nil)

	_, err := svc.CreateBill(ctx, 42, "500")
	require.NoError(t, err)

	res, err := svc.ResolveBill(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, OutcomeWaiting, res.Outcome)

	res, err = svc.ResolveBill(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, res.Outcome)
	require.Equal(t, int64(500), res.NewBalance)

	requireNoSession(t, fsm, 42)
	lg.AssertNumberOfCalls(t, "Credit", 1)
}
