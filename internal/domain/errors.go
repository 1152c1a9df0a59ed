package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("only the team leader can manage payments")
	ErrUnauthenticated      = errors.New("missing user identity")
	ErrConfiguration        = errors.New("payment gateway is not configured")
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrTransactionNotFound  = errors.New("gateway transaction not found")
	ErrDuplicateTransaction = errors.New("transaction already processed")
	ErrInvalidWebhook       = errors.New("invalid webhook")
)
