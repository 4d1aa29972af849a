// Package idempotency deduplicates Telegram updates. The transport retries
// delivery and users double-press buttons, so every callback is executed at
// most once per key and repeats get the recorded answer.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ErrInProgress is returned when the same key is still being processed by
// another turn.
var ErrInProgress = errors.New("update with this key is already in progress")

// Operation is the unit of work guarded by an idempotency key.
type Operation func(ctx context.Context) (interface{}, error)

// Result carries the operation's response and whether it was replayed from
// a previous execution.
type Result struct {
	Response  interface{}
	FromCache bool
}

// Manager executes operations at most once per key.
type Manager interface {
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store Store
	log   *slog.Logger
}

// NewManager builds a Manager over the given store.
func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store: store,
		log:   log,
	}
}

// Execute runs fn unless the key was already processed. A concurrent
// execution of the same key fails fast with ErrInProgress rather than
// blocking the update queue; a completed one replays the stored response.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	locked, err := m.store.Lock(ctx, key, time.Minute)
	if err != nil {
		return nil, err
	}

	if !locked {
		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		if record == nil || record.Status == StatusProcessing {
			m.log.Warn("duplicate update while original still in flight", slog.String("key", key))
			return nil, ErrInProgress
		}

		var response interface{}
		if len(record.Response) > 0 {
			if err := json.Unmarshal(record.Response, &response); err != nil {
				return nil, err
			}
		}

		m.log.Info("duplicate update answered from cache", slog.String("key", key))
		return &Result{Response: response, FromCache: true}, nil
	}

	defer func() {
		if err := m.store.ReleaseLock(ctx, key); err != nil {
			m.log.Warn("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
		}
	}()

	// The lock may have been released by a finished execution; the record
	// outlives it, so a late duplicate still replays instead of re-running.
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil && record.Status == StatusCompleted {
		var response interface{}
		if len(record.Response) > 0 {
			if err := json.Unmarshal(record.Response, &response); err != nil {
				return nil, err
			}
		}

		m.log.Info("duplicate update answered from cache", slog.String("key", key))
		return &Result{Response: response, FromCache: true}, nil
	}

	result, err := fn(ctx)
	if err != nil {
		// A failed turn is not recorded: the user may legitimately retry.
		return nil, err
	}

	responseBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	if err := m.store.Set(ctx, key, &Record{Status: StatusCompleted, Response: responseBytes}, ttl); err != nil {
		m.log.Error("failed to store idempotency record", slog.String("key", key), slog.Any("error", err))
	}

	return &Result{Response: result, FromCache: false}, nil
}
