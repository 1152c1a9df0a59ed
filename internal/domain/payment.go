package domain

import "time"

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusSuccess   PaymentStatus = "SUCCESS"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCancelled PaymentStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

const ProviderSePay = "sepay"

type Payment struct {
	ID            string
	TeamID        string
	Amount        int64
	Currency      string
	Provider      string
	Plan          Plan
	Status        PaymentStatus
	ReferenceCode string
	QRURL         string
	CreatedBy     string
	CreatedAt     time.Time
	ExpiresAt     time.Time

	// ProcessedTransactionIDs is the idempotency ledger of external
	// transaction ids already applied to this payment.
	ProcessedTransactionIDs map[string]struct{}
	TransactionID           string

	PaidAt        *time.Time
	FailedAt      *time.Time
	CancelledAt   *time.Time
	FailureReason string
}

func (p *Payment) Processed(externalID string) bool {
	_, ok := p.ProcessedTransactionIDs[externalID]
	return ok
}

func (p *Payment) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
