package usecase

import (
	"context"
	"smartwork_backend/internal/domain"
	"time"
)

type PaymentStore interface {
	CreatePendingPayment(ctx context.Context, p *domain.Payment, now time.Time) (*domain.Payment, bool, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPaymentByReference(ctx context.Context, ref string) (*domain.Payment, error)
	LatestPaymentForTeam(ctx context.Context, teamID string) (*domain.Payment, error)
	ListPendingPayments(ctx context.Context) ([]*domain.Payment, error)
	ProcessedTransactions(ctx context.Context, externalIDs []string) (map[string]string, error)
	CommitSuccess(ctx context.Context, id, externalID string, paidAt time.Time, grant domain.Entitlement) (bool, error)
	MarkFailed(ctx context.Context, id, reason string, at time.Time) (bool, error)
	Cancel(ctx context.Context, id string, at time.Time) (bool, error)
}

type TeamStore interface {
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
}

// TransactionSource is the read side of the banking gateway.
type TransactionSource interface {
	ListTransactions(ctx context.Context, limit int) ([]domain.BankTransaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.BankTransaction, error)
}

// CheckoutGateway renders what the payer needs to make a transfer.
type CheckoutGateway interface {
	Configured() bool
	QRCodeURL(amount int64, description string) string
}

// Entitler decides what a payment grants its team once paid.
type Entitler interface {
	Grant(p *domain.Payment, paidAt time.Time) domain.Entitlement
}
