package handlers

import (
	"context"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/i18n"
	"github.com/Proton-105/topup-bot/internal/payment"
)

// NewBalanceHandler reports the user's current balance.
func NewBalanceHandler(svc *payment.Service, translations *i18n.Manager, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("balance command without sender")
			return nil
		}

		t := translations.Translator(sender.LanguageCode)

		balance, err := svc.Balance(context.Background(), sender.ID)
		if err != nil {
			return err
		}

		return c.Send(t.Tf("balance.current", balance))
	}
}
