// Package state manages per-user payment conversation sessions.
package state

import "context"

// Storage defines the persistence contract for conversation sessions.
type Storage interface {
	// GetState returns the current session for the specified user.
	GetState(ctx context.Context, userID int64) (*Session, error)
	// SetState saves the provided session for the specified user.
	SetState(ctx context.Context, userID int64, session *Session) error
	// ClearState removes the session for the specified user.
	ClearState(ctx context.Context, userID int64) error
	// GetAllStates returns every stored session.
	GetAllStates(ctx context.Context) ([]*Session, error)
}
