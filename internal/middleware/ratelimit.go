package middleware

import (
	"context"
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/i18n"
	"github.com/Proton-105/topup-bot/internal/ratelimit"
)

// RateLimitMiddleware enforces per-user rate limits for incoming updates.
type RateLimitMiddleware struct {
	limiter    ratelimit.Limiter
	rules      *ratelimit.Rules
	translator *i18n.Manager
	log        *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, translator *i18n.Manager, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter:    limiter,
		rules:      rules,
		translator: translator,
		log:        log,
	}
}

// Handle returns a telebot middleware that enforces per-user rate limits.
// Limiter failures let the update through; losing rate limiting briefly is
// better than dropping payment confirmations.
func (m *RateLimitMiddleware) Handle(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if m.limiter == nil || m.rules == nil {
			return next(c)
		}

		sender := c.Sender()
		if sender == nil {
			return next(c)
		}

		userID := sender.ID
		if m.rules.IsWhitelisted(userID) {
			return next(c)
		}

		limit, window, err := m.rules.PerUserLimit()
		if err != nil {
			m.log.Error("failed to load per-user rate limit", slog.Int64("user_id", userID), slog.Any("error", err))
			return next(c)
		}

		key := fmt.Sprintf("user:%d", userID)
		result, err := m.limiter.Check(context.Background(), key, limit, window)
		if err != nil && result == nil {
			m.log.Warn("rate limiter error", slog.Int64("user_id", userID), slog.Any("error", err))
			return next(c)
		}

		if !result.Allowed {
			m.log.Warn("rate limit exceeded", slog.Int64("user_id", userID))
			t := m.translator.Translator(sender.LanguageCode)
			return c.Send(t.T("common.rate_limited"))
		}

		return next(c)
	}
}
