package payment

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifica o tipo de erro de domínio
type ErrorCode string

const (
	CodeInvalidAmount         ErrorCode = "INVALID_AMOUNT"
	CodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	CodeInsufficientBalance   ErrorCode = "INSUFFICIENT_BALANCE"
	CodeDuplicateRequest      ErrorCode = "DUPLICATE_REQUEST_NUMBER"
	CodeDuplicateExternalID   ErrorCode = "DUPLICATE_EXTERNAL_ID"
	CodeTransactionNotFound   ErrorCode = "TRANSACTION_NOT_FOUND"
	CodeUserNotFound          ErrorCode = "USER_NOT_FOUND"
	CodeForbidden             ErrorCode = "FORBIDDEN"
	CodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	CodeGatewayUnavailable    ErrorCode = "GATEWAY_UNAVAILABLE"
	CodeGatewayRejected       ErrorCode = "GATEWAY_REJECTED"
	CodeUnsupported           ErrorCode = "UNSUPPORTED"
	CodeRateLimited           ErrorCode = "RATE_LIMITED"
	CodeInsufficientUserFunds ErrorCode = "INSUFFICIENT_USER_FUNDS"
)

// Error é o erro de domínio; comparável com errors.Is pelo código.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap devolve uma cópia do erro carregando a causa
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

// WithMessage devolve uma cópia do erro com outra mensagem
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

// Erros customizados
var (
	ErrInvalidAmount          = &Error{Code: CodeInvalidAmount, Message: "amount must be greater than 0"}
	ErrInvalidRequest         = &Error{Code: CodeInvalidRequest, Message: "invalid payment request"}
	ErrInsufficientBalance    = &Error{Code: CodeInsufficientBalance, Message: "insufficient balance"}
	ErrDuplicateRequestNumber = &Error{Code: CodeDuplicateRequest, Message: "request number already exists"}
	ErrDuplicateExternalID    = &Error{Code: CodeDuplicateExternalID, Message: "external id already belongs to another transaction"}
	ErrTransactionNotFound    = &Error{Code: CodeTransactionNotFound, Message: "transaction not found"}
	ErrUserNotFound           = &Error{Code: CodeUserNotFound, Message: "user not found"}
	ErrForbidden              = &Error{Code: CodeForbidden, Message: "transaction belongs to another user"}
	ErrInvalidTransition      = &Error{Code: CodeInvalidTransition, Message: "transition not allowed"}
	ErrGatewayUnavailable     = &Error{Code: CodeGatewayUnavailable, Message: "payment provider unavailable"}
	ErrGatewayRejected        = &Error{Code: CodeGatewayRejected, Message: "payment rejected by provider"}
	ErrUnsupported            = &Error{Code: CodeUnsupported, Message: "operation not supported"}
	ErrRateLimited            = &Error{Code: CodeRateLimited, Message: "too many requests"}
	ErrInsufficientUserFunds  = &Error{Code: CodeInsufficientUserFunds, Message: "INSUFFICIENT_USER_FUNDS"}
)

// CodeOf extrai o código de domínio de um erro, se houver
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

func normalizeToken(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
