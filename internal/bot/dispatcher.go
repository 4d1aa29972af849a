package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/bot/handlers"
	"github.com/Proton-105/topup-bot/internal/state"
)

// Dispatcher routes free-form text to the handler of the user's current
// conversation state.
type Dispatcher struct {
	fsm           state.Machine
	stateHandlers map[state.State]handlers.Handler
	log           *slog.Logger
	mu            sync.RWMutex
}

// NewDispatcher creates a Dispatcher with an empty handlers registry.
func NewDispatcher(fsm state.Machine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		fsm:           fsm,
		stateHandlers: make(map[state.State]handlers.Handler),
		log:           log,
	}
}

// RegisterStateHandler registers a handler for the provided state.
func (d *Dispatcher) RegisterStateHandler(s state.State, h handlers.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateHandlers[s] = h
}

// Dispatch routes the update based on the user's current state. It reports
// whether a state handler consumed the update.
func (d *Dispatcher) Dispatch(c telebot.Context) (bool, error) {
	if c == nil || c.Sender() == nil {
		d.log.Warn("cannot dispatch without sender information")
		return false, nil
	}

	userID := c.Sender().ID

	currentState := state.StateIdle
	session, err := d.fsm.GetState(context.Background(), userID)
	if err != nil {
		if !errors.Is(err, state.ErrStateNotFound) {
			return false, err
		}
	} else if session != nil {
		currentState = session.CurrentState
	}

	handler := d.getHandler(currentState)
	if handler == nil {
		d.log.Debug("no handler registered for state", "state", currentState, "user_id", userID)
		return false, nil
	}

	return true, handler(c)
}

func (d *Dispatcher) getHandler(s state.State) handlers.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stateHandlers[s]
}
