package handlers

import (
	"context"
	"errors"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/i18n"
	"github.com/Proton-105/topup-bot/internal/payment"
	"github.com/Proton-105/topup-bot/internal/state"
)

// NewTopUpHandler starts the top-up conversation when the user presses the
// top-up button.
func NewTopUpHandler(svc *payment.Service, translations *i18n.Manager, log *slog.Logger) CallbackHandler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("top-up callback without sender")
			return nil
		}

		t := translations.Translator(sender.LanguageCode)
		_ = c.Respond()

		if err := svc.BeginTopUp(context.Background(), sender.ID); err != nil {
			switch {
			case errors.Is(err, state.ErrStateLocked):
				return c.Send(t.T("pay.in_progress"))
			case errors.Is(err, state.ErrInvalidTransition):
				// A bill is already open; finish or cancel it first.
				return c.Send(t.T("pay.press_paid"))
			default:
				return err
			}
		}

		return c.Send(t.T("pay.amount_prompt"))
	}
}
