package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/bot/handlers"
	"github.com/Proton-105/topup-bot/pkg/metrics"
)

// Metrics measures execution time and status for bot handlers.
func Metrics(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordCommand(extractCommandName(c), status, time.Since(start))

		return err
	}
}

// extractCommandName labels commands and callbacks; free-form text collapses
// to a single label so amounts do not blow up metric cardinality.
func extractCommandName(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil && cb.Data != "" {
		return "cb:" + strings.TrimPrefix(cb.Data, "\f")
	}

	if text := c.Text(); strings.HasPrefix(text, "/") {
		return text
	}

	if c.Text() != "" {
		return "text"
	}

	return "unknown"
}
