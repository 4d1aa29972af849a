// Package middleware provides cross-cutting telebot handler wrappers.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/bot/handlers"
	"github.com/Proton-105/topup-bot/internal/idempotency"
)

// Idempotency ensures handlers execute at most once per Telegram update key.
// Telegram redelivers updates and users double-press inline buttons; without
// this a paid bill could be resolved twice.
func Idempotency(manager idempotency.Manager, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler {
			return next
		}
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			key := extractIdempotencyKey(c)
			if key == "" {
				return next(c)
			}

			_, err := manager.Execute(context.Background(), key, 24*time.Hour, func(ctx context.Context) (interface{}, error) {
				return nil, next(c)
			})
			if errors.Is(err, idempotency.ErrInProgress) {
				return nil
			}

			return err
		}
	}
}

func extractIdempotencyKey(c telebot.Context) string {
	if c == nil {
		return ""
	}

	if cb := c.Callback(); cb != nil {
		if cb.ID != "" {
			return fmt.Sprintf("cb:%s", cb.ID)
		}

		if cb.Message != nil && cb.Message.Chat != nil {
			return fmt.Sprintf("cb-msg:%d:%d", cb.Message.Chat.ID, cb.Message.ID)
		}
	}

	if msg := c.Message(); msg != nil && msg.ID != 0 {
		chatID := int64(0)
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		return fmt.Sprintf("msg:%d:%d", chatID, msg.ID)
	}

	return ""
}
