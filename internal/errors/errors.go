package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation   = "E100"
	CodeStorage      = "E200"
	CodeExternalAPI  = "E300"
	CodeState        = "E400"
	CodeRateLimit    = "E500"
	CodeReferral     = "E600"
	CodeUnauthorized = "E700"
)

// DefaultUserMessage is shown when an error carries no user-facing text.
const DefaultUserMessage = "Bir hata oluştu. Lütfen daha sonra tekrar deneyin."

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

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: fmt.Sprintf("Geçersiz veri. %s", msg),
		Severity:    SeverityLow,
	}
}

// NewStorageError reports that the ledger backend could not complete an
// operation. The caller may retry.
func NewStorageError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodeStorage,
		Message:     fmt.Sprintf("storage unavailable: %s", underlyingMsg),
		UserMessage: "Geçici bir sorun oluştu, lütfen birazdan tekrar deneyin.",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        CodeExternalAPI,
		Message:     fmt.Sprintf("external API error: %s", apiName),
		UserMessage: "Servis geçici olarak kullanılamıyor.",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "Bu işlem şu anda yapılamaz.",
		Severity:    SeverityMedium,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Çok fazla istek. %d saniye sonra tekrar deneyin.", retryAfter),
		Severity:    SeverityLow,
	}
}

// NewReferralError wraps a rejected referral. These are expected outcomes,
// so they are never reported to Sentry.
func NewReferralError(userMessage string, cause error) *AppError {
	msg := "referral rejected"
	if cause != nil {
		msg = fmt.Sprintf("referral rejected: %s", cause.Error())
	}

	return &AppError{
		Code:        CodeReferral,
		Message:     msg,
		UserMessage: userMessage,
		Severity:    SeverityLow,
		cause:       cause,
	}
}

func NewUnauthorizedError(msg string) *AppError {
	return &AppError{
		Code:        CodeUnauthorized,
		Message:     msg,
		UserMessage: "Bu komut için yetkiniz yok.",
		Severity:    SeverityMedium,
	}
}
