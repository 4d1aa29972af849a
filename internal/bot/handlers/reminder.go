package handlers

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/i18n"
)

// NewPaymentReminderHandler answers free-form text sent while a bill is
// open: the conversation only moves on via the paid button or /cancel.
func NewPaymentReminderHandler(translations *i18n.Manager) Handler {
	return func(c telebot.Context) error {
		lang := ""
		if c.Sender() != nil {
			lang = c.Sender().LanguageCode
		}

		return c.Send(translations.Translator(lang).T("pay.press_paid"))
	}
}
