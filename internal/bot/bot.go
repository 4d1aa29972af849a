// Package bot wires the Telegram transport to the payment conversation.
package bot

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/topup-bot/internal/bot/handlers"
	"github.com/Proton-105/topup-bot/internal/bot/keyboard"
	apperrors "github.com/Proton-105/topup-bot/internal/errors"
	"github.com/Proton-105/topup-bot/internal/i18n"
	"github.com/Proton-105/topup-bot/internal/idempotency"
	"github.com/Proton-105/topup-bot/internal/middleware"
	"github.com/Proton-105/topup-bot/internal/payment"
	"github.com/Proton-105/topup-bot/internal/state"
	"github.com/Proton-105/topup-bot/pkg/config"
)

// Bot wraps telebot.Bot with the application dependencies needed for
// handling updates.
type Bot struct {
	telebot      *telebot.Bot
	log          *slog.Logger
	cfg          config.Config
	fsm          state.Machine
	payments     *payment.Service
	translations *i18n.Manager
	rateLimitMw  *middleware.RateLimitMiddleware
	router       *Router
	dispatcher   *Dispatcher
	keyboard     *keyboard.Builder
	errHandler   *apperrors.Handler
	idempotency  idempotency.Manager
}

// New builds a telegram bot instance configured per application settings.
func New(
	cfg config.Config,
	log *slog.Logger,
	fsm state.Machine,
	payments *payment.Service,
	translations *i18n.Manager,
	idempotencyManager idempotency.Manager,
	rateLimitMw *middleware.RateLimitMiddleware,
) (*Bot, error) {
	settings := telebot.Settings{
		Token: cfg.Bot.Token,
	}

	if cfg.Bot.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen: cfg.Server.Port,
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Bot.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	dispatcher := NewDispatcher(fsm, log)

	b := &Bot{
		telebot:      tb,
		log:          log,
		cfg:          cfg,
		fsm:          fsm,
		payments:     payments,
		translations: translations,
		rateLimitMw:  rateLimitMw,
		router:       NewRouter(dispatcher, log),
		dispatcher:   dispatcher,
		keyboard:     keyboard.NewBuilder(log),
		errHandler:   apperrors.NewHandler(log, cfg.Sentry.Enabled),
		idempotency:  idempotencyManager,
	}

	b.setupRouter()

	if b.rateLimitMw != nil {
		b.telebot.Use(b.rateLimitMw.Handle)
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)

	return b, nil
}

// Start runs the telegram bot event loop.
func (b *Bot) Start() {
	b.telebot.Start()
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot for integrations such as
// health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

func (b *Bot) setupRouter() {
	b.router.Use(RecoveryMiddleware(b.log, b.errHandler, b.translations))
	b.router.Use(middleware.Idempotency(b.idempotency, b.log))
	b.router.Use(ErrorHandlingMiddleware(b.errHandler, b.translations))
	b.router.Use(LoggingMiddleware(b.log))
	b.router.Use(middleware.Metrics)

	b.router.RegisterCommand(CommandStart, handlers.NewStartHandler(b.translations, b.keyboard, b.log))
	b.router.RegisterCommand(CommandCancel, handlers.NewCancelHandler(b.payments, b.translations, b.log))
	b.router.RegisterCommand(CommandBalance, handlers.NewBalanceHandler(b.payments, b.translations, b.log))
	b.router.RegisterCommand(CommandAdmin, handlers.NewAdminHandler(b.translations))

	b.router.RegisterCallback(CallbackConfirmPaid, handlers.NewConfirmPaidHandler(b.payments, b.translations, b.log))
	b.router.RegisterCallback(CallbackTopUp, handlers.NewTopUpHandler(b.payments, b.translations, b.log))

	b.dispatcher.RegisterStateHandler(state.StateAwaitingAmount,
		handlers.NewAmountHandler(b.payments, b.keyboard, b.translations, b.log))
	b.dispatcher.RegisterStateHandler(state.StateAwaitingConfirmation,
		handlers.NewPaymentReminderHandler(b.translations))
}
