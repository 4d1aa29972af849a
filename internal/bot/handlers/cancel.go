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

// NewCancelHandler aborts the current conversation, rejecting any open bill.
func NewCancelHandler(svc *payment.Service, translations *i18n.Manager, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("cancel command without sender")
			return nil
		}

		t := translations.Translator(sender.LanguageCode)

		cancelled, err := svc.Cancel(context.Background(), sender.ID)
		if err != nil {
			if errors.Is(err, state.ErrStateLocked) {
				return c.Send(t.T("pay.in_progress"))
			}
			return err
		}

		if !cancelled {
			return c.Send(t.T("pay.nothing_to_cancel"))
		}

		return c.Send(t.T("pay.cancelled"))
	}
}
