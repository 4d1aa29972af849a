package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/Proton-105/topup-bot/internal/domain"
	apperrors "github.com/Proton-105/topup-bot/internal/errors"
)

// PostgresLedger is a SQL-backed Ledger over the clients table.
type PostgresLedger struct {
	db  *sql.DB
	log *slog.Logger
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a new SQL-backed ledger.
func NewPostgresLedger(db *sql.DB, log *slog.Logger) *PostgresLedger {
	if log == nil {
		log = slog.Default()
	}

	return &PostgresLedger{
		db:  db,
		log: log,
	}
}

// Credit adds delta to the user's balance in a single upsert statement, so
// concurrent credits for the same user cannot lose updates.
func (l *PostgresLedger) Credit(ctx context.Context, userID, delta int64) (domain.Client, error) {
	if delta <= 0 {
		return domain.Client{}, ErrInvalidDelta
	}

	const query = `
		INSERT INTO clients (user_id, amount, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET amount = clients.amount + EXCLUDED.amount, updated_at = NOW()
		RETURNING amount, updated_at
	`

	client := domain.Client{UserID: userID}
	if err := l.db.QueryRowContext(ctx, query, userID, delta).Scan(&client.Amount, &client.UpdatedAt); err != nil {
		l.log.Error("failed to credit balance",
			slog.Int64("user_id", userID),
			slog.Int64("delta", delta),
			slog.Any("error", err),
		)
		return domain.Client{}, apperrors.NewLedgerError(err)
	}

	l.log.Info("balance credited",
		slog.Int64("user_id", userID),
		slog.Int64("delta", delta),
		slog.Int64("new_balance", client.Amount),
	)

	return client, nil
}

// Balance reads the current account, treating a missing row as a zero balance.
func (l *PostgresLedger) Balance(ctx context.Context, userID int64) (domain.Client, error) {
	const query = `SELECT amount, updated_at FROM clients WHERE user_id = $1`

	client := domain.Client{UserID: userID}
	if err := l.db.QueryRowContext(ctx, query, userID).Scan(&client.Amount, &client.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Client{UserID: userID}, nil
		}

		l.log.Error("failed to read balance", slog.Int64("user_id", userID), slog.Any("error", err))
		return domain.Client{}, apperrors.NewLedgerError(err)
	}

	return client, nil
}
