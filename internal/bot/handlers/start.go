package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/bot/keyboard"
	"github.com/Proton-105/topup-bot/internal/i18n"
)

// NewStartHandler greets the user and shows the top-up entry point.
func NewStartHandler(translations *i18n.Manager, kb *keyboard.Builder, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("start handler invoked without sender")
			return nil
		}

		t := translations.Translator(sender.LanguageCode)

		name := sender.FirstName
		if name == "" {
			name = sender.Username
		}

		return c.Send(t.Tf("pay.greeting", name), kb.TopUpMenu(t))
	}
}
