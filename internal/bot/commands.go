package bot

// Command constants for Telegram bot commands.
const (
	CommandStart   = "/start"
	CommandCancel  = "/cancel"
	CommandBalance = "/balance"
	CommandAdmin   = "/admin"
)

// Callback data constants for inline button interactions.
const (
	CallbackTopUp       = "pay"
	CallbackConfirmPaid = "confirm-paid"
)
