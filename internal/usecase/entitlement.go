package usecase

import (
	"smartwork_backend/internal/domain"
	"time"
)

// EntitlementPolicy grants the paid plan for a fixed duration from the
// moment of payment. The store writes the grant in the same transaction that
// settles the payment.
type EntitlementPolicy struct {
	duration time.Duration
}

func NewEntitlementPolicy(duration time.Duration) *EntitlementPolicy {
	return &EntitlementPolicy{duration: duration}
}

func (e *EntitlementPolicy) Grant(p *domain.Payment, paidAt time.Time) domain.Entitlement {
	return domain.Entitlement{
		TeamID:    p.TeamID,
		Plan:      p.Plan,
		ExpiresAt: paidAt.Add(e.duration).UTC(),
	}
}
