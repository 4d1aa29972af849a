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

// NewConfirmPaidHandler resolves the pending bill when the user presses the
// paid button. A press while the previous press is still being processed is
// answered with a wait message instead of a second resolution.
func NewConfirmPaidHandler(svc *payment.Service, translations *i18n.Manager, log *slog.Logger) CallbackHandler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("paid confirmation without sender")
			return nil
		}

		t := translations.Translator(sender.LanguageCode)
		_ = c.Respond()

		res, err := svc.ResolveBill(context.Background(), sender.ID)
		if err != nil {
			if errors.Is(err, state.ErrStateLocked) {
				return c.Send(t.T("pay.in_progress"))
			}
			return err
		}

		switch res.Outcome {
		case payment.OutcomePaid:
			if err := c.Send(t.Tf("pay.success", res.Amount)); err != nil {
				return err
			}
			return c.Send(t.Tf("balance.current", res.NewBalance))
		case payment.OutcomeWaiting:
			return c.Send(t.T("pay.waiting"))
		case payment.OutcomeRejected:
			return c.Send(t.T("pay.rejected"))
		case payment.OutcomeExpired:
			return c.Send(t.T("pay.expired"))
		default:
			log.Error("unexpected bill resolution", slog.String("outcome", string(res.Outcome)), slog.Int64("user_id", sender.ID))
			return c.Send(t.T("common.internal_error"))
		}
	}
}
