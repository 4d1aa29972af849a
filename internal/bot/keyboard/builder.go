// Package keyboard renders the inline keyboards of the top-up conversation.
package keyboard

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/i18n"
)

// Builder creates inline keyboards with localized labels.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(log *slog.Logger) *Builder {
	return &Builder{log: log}
}

// TopUpMenu builds the idle state menu with the top-up entry point.
func (b *Builder) TopUpMenu(t i18n.Translator) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{
		{
			{
				Text: t.T("pay.topup_button"),
				Data: "pay",
			},
		},
	}
	return markup
}

// PayButtons builds the bill keyboard: a link to the payment form and the
// confirmation button the user presses after paying.
func (b *Builder) PayButtons(t i18n.Translator, payURL string) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{
		{
			{
				Text: t.T("pay.pay_button"),
				URL:  payURL,
			},
		},
		{
			{
				Text: t.T("pay.paid_button"),
				Data: "confirm-paid",
			},
		},
	}
	return markup
}
