package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userLockKeyPattern = "user:lock:%d"

	// A locked turn can spend around 42s in gateway retries (four attempts
	// of 10s plus backoff). The lock must outlive the whole section, and the
	// section is deadlined below the TTL, so the lock can never expire while
	// a turn is still running inside it.
	lockTTL        = 60 * time.Second
	sectionTimeout = 50 * time.Second
)

var (
	// ErrInvalidTransition indicates that a requested FSM transition is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStateNotFound indicates that a user session record does not exist.
	ErrStateNotFound = errors.New("user session not found")
	// ErrStateLocked indicates that a concurrent operation already holds the lock.
	ErrStateLocked = errors.New("session is locked, try again later")
	// ErrPendingBillInvariant indicates an attempt to store a session with a
	// half-populated pending bill.
	ErrPendingBillInvariant = errors.New("pending amount and bill id must be set together")
)

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe FSM transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// Machine describes the operations supported by the FSM controller.
//
// Mutating methods do not lock by themselves; conversation handlers wrap a
// whole turn (read session, call collaborators, write session) in WithLock so
// that two rapid events from one user cannot interleave.
type Machine interface {
	GetState(ctx context.Context, userID int64) (*Session, error)
	SetState(ctx context.Context, userID int64, state State, bill *PendingBill) error
	TransitionTo(ctx context.Context, userID int64, newState State) error
	ClearState(ctx context.Context, userID int64) error
	GetAllStates(ctx context.Context) ([]*Session, error)
	WithLock(ctx context.Context, userID int64, fn func(ctx context.Context) error) error
}

// machine is a concrete implementation of Machine backed by Storage and
// Redis locking, with an in-process keyed mutex when Redis is absent.
type machine struct {
	storage     Storage
	log         *slog.Logger
	redisClient *redis.Client
	localLocks  sync.Map // userID -> *sync.Mutex
}

// NewMachine creates a FSM controller using the provided storage backend and
// optional redis client for distributed locking.
func NewMachine(storage Storage, log *slog.Logger, redisClient *redis.Client) Machine {
	if log == nil {
		log = slog.Default()
	}

	return &machine{
		storage:     storage,
		log:         log,
		redisClient: redisClient,
	}
}

// GetState proxies to the underlying storage implementation.
func (m *machine) GetState(ctx context.Context, userID int64) (*Session, error) {
	return m.storage.GetState(ctx, userID)
}

// GetAllStates returns every persisted session.
func (m *machine) GetAllStates(ctx context.Context) ([]*Session, error) {
	return m.storage.GetAllStates(ctx)
}

// SetState validates the transition and the pending-bill invariant, then
// persists the composed session.
func (m *machine) SetState(ctx context.Context, userID int64, state State, bill *PendingBill) error {
	if bill != nil && (bill.Amount <= 0 || bill.BillID == "") {
		return ErrPendingBillInvariant
	}
	if state == StateAwaitingConfirmation && bill == nil {
		return ErrPendingBillInvariant
	}

	current, err := m.currentState(ctx, userID)
	if err != nil {
		return err
	}

	if !IsTransitionAllowed(current, state) {
		m.log.Warn("invalid state transition", "user_id", userID, "from", current, "to", state)
		return ErrInvalidTransition
	}

	transitionRecorder(string(current), string(state))

	return m.saveState(ctx, userID, state, bill)
}

// TransitionTo changes the state without touching pending bill data.
func (m *machine) TransitionTo(ctx context.Context, userID int64, newState State) error {
	current, err := m.currentState(ctx, userID)
	if err != nil {
		return err
	}

	if !IsTransitionAllowed(current, newState) {
		m.log.Warn("invalid state transition", "user_id", userID, "from", current, "to", newState)
		return ErrInvalidTransition
	}

	transitionRecorder(string(current), string(newState))

	return m.saveState(ctx, userID, newState, nil)
}

// ClearState removes the stored session, resetting the user to idle.
func (m *machine) ClearState(ctx context.Context, userID int64) error {
	current, err := m.currentState(ctx, userID)
	if err != nil {
		return err
	}

	transitionRecorder(string(current), string(StateIdle))

	return m.storage.ClearState(ctx, userID)
}

// WithLock serializes fn against other conversation turns for the same user.
// It fails fast with ErrStateLocked instead of queueing; the duplicate event
// is reported back to the user rather than processed twice.
func (m *machine) WithLock(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}

	sectionCtx, cancel := context.WithTimeout(ctx, sectionTimeout)
	defer cancel()

	if m.redisClient == nil {
		return m.withLocalLock(sectionCtx, userID, fn)
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	acquired, err := m.redisClient.SetNX(ctx, key, 1, lockTTL).Result()
	if err != nil {
		m.log.Error("failed to acquire user session lock", "user_id", userID, "error", err)
		return err
	}

	if !acquired {
		m.log.Warn("user session lock already held", "user_id", userID)
		return ErrStateLocked
	}

	defer func() {
		// Release even when the section deadline has fired.
		if delErr := m.redisClient.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			m.log.Error("failed to release user session lock", "user_id", userID, "error", delErr)
		}
	}()

	return fn(sectionCtx)
}

func (m *machine) withLocalLock(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	entry, _ := m.localLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := entry.(*sync.Mutex)

	if !mu.TryLock() {
		m.log.Warn("user session lock already held", "user_id", userID)
		return ErrStateLocked
	}
	defer mu.Unlock()

	return fn(ctx)
}

func (m *machine) currentState(ctx context.Context, userID int64) (State, error) {
	session, err := m.storage.GetState(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrStateNotFound) {
			return StateIdle, err
		}
		return StateIdle, nil
	}

	if session == nil {
		return StateIdle, nil
	}

	return session.CurrentState, nil
}

func (m *machine) saveState(ctx context.Context, userID int64, state State, bill *PendingBill) error {
	session := &Session{
		UserID:       userID,
		CurrentState: state,
	}
	if bill != nil {
		session.PendingAmount = bill.Amount
		session.PendingBillID = bill.BillID
	}

	return m.storage.SetState(ctx, userID, session)
}
