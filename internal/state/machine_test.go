package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errStorageFailure = errors.New("storage error")

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) GetState(ctx context.Context, userID int64) (*Session, error) {
	args := m.Called(ctx, userID)
	session, _ := args.Get(0).(*Session)
	return session, args.Error(1)
}

func (m *mockStorage) SetState(ctx context.Context, userID int64, session *Session) error {
	args := m.Called(ctx, userID, session)
	return args.Error(0)
}

func (m *mockStorage) ClearState(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockStorage) GetAllStates(ctx context.Context) ([]*Session, error) {
	args := m.Called(ctx)
	sessions, _ := args.Get(0).([]*Session)
	return sessions, args.Error(1)
}

func TestMachine_SetState(t *testing.T) {
	ctx := context.Background()
	userID := int64(42)
	log := testLogger()

	testCases := []struct {
		name        string
		setupMocks  func(ms *mockStorage)
		newState    State
		bill        *PendingBill
		expectedErr error
	}{
		{
			name: "idle to awaiting amount",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return(&Session{CurrentState: StateIdle}, nil).Once()
				ms.On("SetState", mock.Anything, userID, mock.MatchedBy(func(s *Session) bool {
					return s.CurrentState == StateAwaitingAmount && !s.HasPendingBill()
				})).Return(nil).Once()
			},
			newState:    StateAwaitingAmount,
			expectedErr: nil,
		},
		{
			name: "awaiting amount to awaiting confirmation with bill",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return(&Session{CurrentState: StateAwaitingAmount}, nil).Once()
				ms.On("SetState", mock.Anything, userID, mock.MatchedBy(func(s *Session) bool {
					return s.CurrentState == StateAwaitingConfirmation &&
						s.PendingAmount == 500 && s.PendingBillID == "bill-1"
				})).Return(nil).Once()
			},
			newState:    StateAwaitingConfirmation,
			bill:        &PendingBill{Amount: 500, BillID: "bill-1"},
			expectedErr: nil,
		},
		{
			name: "awaiting confirmation requires bill",
			setupMocks: func(ms *mockStorage) {
			},
			newState:    StateAwaitingConfirmation,
			expectedErr: ErrPendingBillInvariant,
		},
		{
			name: "half populated bill rejected",
			setupMocks: func(ms *mockStorage) {
			},
			newState:    StateAwaitingConfirmation,
			bill:        &PendingBill{Amount: 500},
			expectedErr: ErrPendingBillInvariant,
		},
		{
			name: "invalid transition",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return(&Session{CurrentState: StateIdle}, nil).Once()
			},
			newState:    StateAwaitingConfirmation,
			bill:        &PendingBill{Amount: 100, BillID: "bill-2"},
			expectedErr: ErrInvalidTransition,
		},
		{
			name: "new user starts from idle",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return((*Session)(nil), ErrStateNotFound).Once()
				ms.On("SetState", mock.Anything, userID, mock.MatchedBy(func(s *Session) bool {
					return s.CurrentState == StateAwaitingAmount
				})).Return(nil).Once()
			},
			newState:    StateAwaitingAmount,
			expectedErr: nil,
		},
		{
			name: "storage failure propagates",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return((*Session)(nil), errStorageFailure).Once()
			},
			newState:    StateAwaitingAmount,
			expectedErr: errStorageFailure,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockStorage{}
			tc.setupMocks(ms)

			fsm := NewMachine(ms, log, nil)
			err := fsm.SetState(ctx, userID, tc.newState, tc.bill)

			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
			}

			ms.AssertExpectations(t)
		})
	}
}

func TestMachine_ClearState(t *testing.T) {
	ctx := context.Background()
	userID := int64(13)

	testCases := []struct {
		name       string
		setupMocks func(ms *mockStorage)
		expectErr  error
	}{
		{
			name: "clear success",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return(&Session{CurrentState: StateAwaitingConfirmation}, nil).Once()
				ms.On("ClearState", mock.Anything, userID).
					Return(nil).Once()
			},
			expectErr: nil,
		},
		{
			name: "clear error",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return(&Session{CurrentState: StateAwaitingConfirmation}, nil).Once()
				ms.On("ClearState", mock.Anything, userID).
					Return(errStorageFailure).Once()
			},
			expectErr: errStorageFailure,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockStorage{}
			tc.setupMocks(ms)

			fsm := NewMachine(ms, testLogger(), nil)
			err := fsm.ClearState(ctx, userID)

			if tc.expectErr != nil {
				require.ErrorIs(t, err, tc.expectErr)
			} else {
				require.NoError(t, err)
			}

			ms.AssertExpectations(t)
		})
	}
}

func TestMachine_WithLock_Redis(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	fsm := NewMachine(NewMemoryStorage(), testLogger(), client)

	ctx := context.Background()
	userID := int64(77)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	entered := make(chan struct{})
	release := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- fsm.WithLock(ctx, userID, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- fsm.WithLock(ctx, userID, func(ctx context.Context) error {
			return nil
		})
	}()

	// Let the second goroutine hit the held lock before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)

	wg.Wait()
	close(errCh)

	var success, locked int
	for err := range errCh {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrStateLocked):
			locked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require.Equal(t, 1, success)
	require.Equal(t, 1, locked)
}

func TestMachine_WithLock_HoldsThroughSlowSection(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fsm := NewMachine(NewMemoryStorage(), testLogger(), client)

	ctx := context.Background()
	userID := int64(80)

	entered := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		firstDone <- fsm.WithLock(ctx, userID, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered

	// A turn waiting out gateway retries can run tens of seconds; a second
	// press in that window must still be refused, not let in.
	mr.FastForward(45 * time.Second)

	err := fsm.WithLock(ctx, userID, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrStateLocked)

	close(release)
	require.NoError(t, <-firstDone)
}

func TestMachine_WithLock_SectionDeadlineBelowLockTTL(t *testing.T) {
	require.Less(t, sectionTimeout, lockTTL)

	fsm := NewMachine(NewMemoryStorage(), testLogger(), nil)

	require.NoError(t, fsm.WithLock(context.Background(), 81, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		require.LessOrEqual(t, time.Until(deadline), sectionTimeout)
		return nil
	}))
}

func TestMachine_WithLock_LocalFallback(t *testing.T) {
	fsm := NewMachine(NewMemoryStorage(), testLogger(), nil)

	ctx := context.Background()
	userID := int64(78)

	entered := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		firstDone <- fsm.WithLock(ctx, userID, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered

	err := fsm.WithLock(ctx, userID, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrStateLocked)

	// A different user is not serialized against the held lock.
	require.NoError(t, fsm.WithLock(ctx, int64(79), func(ctx context.Context) error { return nil }))

	close(release)
	require.NoError(t, <-firstDone)
}

func TestMemoryStorage_Lifecycle(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	_, err := storage.GetState(ctx, 1)
	require.ErrorIs(t, err, ErrStateNotFound)

	session := &Session{UserID: 1, CurrentState: StateAwaitingConfirmation, PendingAmount: 500, PendingBillID: "bill-1"}
	require.NoError(t, storage.SetState(ctx, 1, session))

	got, err := storage.GetState(ctx, 1)
	require.NoError(t, err)
	require.True(t, got.HasPendingBill())
	require.Equal(t, int64(500), got.Pending().Amount)
	require.False(t, got.UpdatedAt.IsZero())

	all, err := storage.GetAllStates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, storage.ClearState(ctx, 1))
	_, err = storage.GetState(ctx, 1)
	require.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStorage_Lifecycle(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	storage := NewRedisStorage(client, testLogger(), time.Minute)

	_, err := storage.GetState(ctx, 5)
	require.ErrorIs(t, err, ErrStateNotFound)

	session := &Session{UserID: 5, CurrentState: StateAwaitingAmount}
	require.NoError(t, storage.SetState(ctx, 5, session))

	got, err := storage.GetState(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingAmount, got.CurrentState)
	require.False(t, got.HasPendingBill())

	all, err := storage.GetAllStates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, storage.ClearState(ctx, 5))
	_, err = storage.GetState(ctx, 5)
	require.ErrorIs(t, err, ErrStateNotFound)
}

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}

	return client, cleanup
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
