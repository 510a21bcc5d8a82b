package dispatch

import "fmt"

// Code is the closed set of machine-readable error kinds. The machine code
// equals the kind name.
type Code string

const (
	CodeInputInvalid            Code = "input_invalid"
	CodeNoMatch                 Code = "no_match"
	CodeShellBlocked            Code = "shell_blocked"
	CodeConfirmationRequired    Code = "confirmation_required"
	CodeProviderMissingAuth     Code = "provider_missing_auth"
	CodeProviderAuthError       Code = "provider_auth_error"
	CodeProviderRateLimit       Code = "provider_rate_limit"
	CodeProviderUnreachable     Code = "provider_unreachable"
	CodeProviderInvalidResponse Code = "provider_invalid_response"
	CodeCancelled               Code = "cancelled"
	CodeNonLoopbackTarget       Code = "non_loopback_target"
	CodeContractDrift           Code = "contract_drift"
	CodeContractUnrepairable    Code = "contract_unrepairable"
	CodeInternal                Code = "internal"
)

// Error pairs a Code with a human-readable message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a typed dispatcher error.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
