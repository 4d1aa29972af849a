package handlers

import (
	"context"
	"errors"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/bot/keyboard"
	"github.com/Proton-105/topup-bot/internal/i18n"
	"github.com/Proton-105/topup-bot/internal/payment"
	"github.com/Proton-105/topup-bot/internal/state"
)

// NewAmountHandler consumes the amount message while the conversation is in
// awaiting_amount, opens a bill and replies with the payment keyboard. A
// malformed amount re-prompts without touching the session.
func NewAmountHandler(svc *payment.Service, kb *keyboard.Builder, translations *i18n.Manager, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("amount message without sender")
			return nil
		}

		t := translations.Translator(sender.LanguageCode)

		bill, err := svc.CreateBill(context.Background(), sender.ID, c.Text())
		if err != nil {
			switch {
			case errors.Is(err, payment.ErrInvalidAmount):
				return c.Send(t.T("pay.invalid_amount"))
			case errors.Is(err, state.ErrStateLocked):
				return c.Send(t.T("pay.in_progress"))
			default:
				return err
			}
		}

		return c.Send(t.T("pay.bill_created"), kb.PayButtons(t, bill.PayURL))
	}
}
