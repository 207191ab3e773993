package api

import (
	"errors"
	"net/http"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/webhook"
)

var statusByCode = map[payment.ErrorCode]int{
	payment.CodeInvalidAmount:         http.StatusBadRequest,
	payment.CodeInvalidRequest:        http.StatusBadRequest,
	payment.CodeInsufficientBalance:   http.StatusUnprocessableEntity,
	payment.CodeDuplicateRequest:      http.StatusConflict,
	payment.CodeDuplicateExternalID:   http.StatusConflict,
	payment.CodeTransactionNotFound:   http.StatusNotFound,
	payment.CodeUserNotFound:          http.StatusNotFound,
	payment.CodeForbidden:             http.StatusForbidden,
	payment.CodeInvalidTransition:     http.StatusConflict,
	payment.CodeGatewayUnavailable:    http.StatusBadGateway,
	payment.CodeGatewayRejected:       http.StatusUnprocessableEntity,
	payment.CodeUnsupported:           http.StatusUnprocessableEntity,
	payment.CodeRateLimited:           http.StatusTooManyRequests,
	payment.CodeInsufficientUserFunds: http.StatusUnprocessableEntity,
}

func errorStatus(err error) int {
	if code, ok := payment.CodeOf(err); ok {
		if status, found := statusByCode[code]; found {
			return status
		}
	}
	return http.StatusInternalServerError
}

func asDomainError(err error) (*payment.Error, bool) {
	var pe *payment.Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func webhookStatus(err error) int {
	switch {
	case errors.Is(err, webhook.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrMissingSignature),
		errors.Is(err, webhook.ErrInvalidSignature),
		errors.Is(err, webhook.ErrSecretNotConfigured),
		errors.Is(err, webhook.ErrSourceNotAllowed),
		errors.Is(err, webhook.ErrTypeMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, webhook.ErrExternalIDConflict):
		return http.StatusConflict
	case errors.Is(err, webhook.ErrUnknownTransaction),
		errors.Is(err, payment.ErrTransactionNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
