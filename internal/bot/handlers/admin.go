package handlers

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/i18n"
)

// NewAdminHandler answers the admin command with a stub message.
// TODO: real admin panel once the requirements for it settle.
func NewAdminHandler(translations *i18n.Manager) Handler {
	return func(c telebot.Context) error {
		lang := ""
		if c.Sender() != nil {
			lang = c.Sender().LanguageCode
		}

		return c.Send(translations.Translator(lang).T("admin.stub"))
	}
}
