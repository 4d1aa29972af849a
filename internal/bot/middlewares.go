package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/topup-bot/internal/errors"
	"github.com/Proton-105/topup-bot/internal/i18n"
)

// RecoveryMiddleware catches panics, reports them and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *apperrors.Handler, translations *i18n.Manager) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered in handler",
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)

					if errHandler != nil {
						_, _ = errHandler.Handle(context.Background(), apperrors.NewInternalError(fmt.Errorf("panic recovered: %v", r)))
					}

					if c != nil {
						userMsg := userMessage(translations, c, "common.internal_error")
						if sendErr := c.Send(userMsg); sendErr != nil {
							log.Error("failed to notify user about panic", slog.Any("error", sendErr))
						}
					}

					err = nil
				}
			}()

			return next(c)
		}
	}
}

// ErrorHandlingMiddleware centralizes error reporting and user messaging
// for handler failures. Handler errors never propagate to telebot; the user
// always gets a reply.
func ErrorHandlingMiddleware(errHandler *apperrors.Handler, translations *i18n.Manager) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			userMsg := userMessage(translations, c, "common.internal_error")
			if errHandler != nil {
				if msg, _ := errHandler.Handle(context.Background(), err); msg != "" {
					userMsg = msg
				}
			}

			if c != nil {
				_ = c.Send(userMsg)
			}

			return nil
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming updates.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			start := time.Now()

			userID := int64(0)
			if c != nil && c.Sender() != nil {
				userID = c.Sender().ID
			}

			action := ""
			if c != nil {
				if cb := c.Callback(); cb != nil {
					action = cb.Data
				} else {
					action = c.Text()
				}
			}

			err := next(c)
			log.Info("handled update",
				slog.Int64("user_id", userID),
				slog.String("action", action),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)

			return err
		}
	}
}

func userMessage(translations *i18n.Manager, c telebot.Context, key string) string {
	lang := ""
	if c != nil && c.Sender() != nil {
		lang = c.Sender().LanguageCode
	}

	return translations.Translator(lang).T(key)
}
