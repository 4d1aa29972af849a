package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewValidationError covers malformed user input, e.g. a non-numeric amount.
func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        "E100",
		Message:     msg,
		UserMessage: fmt.Sprintf("Неверный формат данных. %s", msg),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

// NewLedgerError covers balance store failures. Never swallowed: a payment
// is not resolved until the credit write is confirmed.
func NewLedgerError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        "E200",
		Message:     fmt.Sprintf("Ledger error: %s", underlyingMsg),
		UserMessage: "Временная проблема с базой, попробуйте позже",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewGatewayError covers transport failures talking to the payment gateway.
func NewGatewayError(cause error) *AppError {
	return &AppError{
		Code:        "E300",
		Message:     "Payment gateway unavailable",
		UserMessage: "Платёжный сервис временно недоступен, попробуйте позже",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

// NewGatewayRejectedError covers validation rejections by the payment gateway.
func NewGatewayRejectedError(cause error) *AppError {
	return &AppError{
		Code:        "E301",
		Message:     "Payment gateway rejected the request",
		UserMessage: "Платёжный сервис отклонил запрос, попробуйте позже",
		Severity:    SeverityMedium,
		Retryable:   false,
		cause:       cause,
	}
}

// NewStateError covers operations not valid in the user's current conversation state.
func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        "E400",
		Message:     msg,
		UserMessage: "Операция невозможна в текущем состоянии",
		Severity:    SeverityMedium,
		Retryable:   false,
		cause:       nil,
	}
}

// NewUnknownStatusError covers a gateway bill status outside the recognized set.
func NewUnknownStatusError(status string) *AppError {
	return &AppError{
		Code:        "E310",
		Message:     fmt.Sprintf("Unknown bill status %q", status),
		UserMessage: "Не удалось определить статус платежа, попробуйте ещё раз",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       nil,
	}
}

// NewInternalError covers unexpected failures, including recovered panics.
func NewInternalError(cause error) *AppError {
	return &AppError{
		Code:        "E900",
		Message:     "Internal error",
		UserMessage: "Что-то пошло не так, попробуйте позже",
		Severity:    SeverityCritical,
		Retryable:   false,
		cause:       cause,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        "E500",
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Слишком много запросов. Попробуйте через %d секунд", retryAfter),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}
