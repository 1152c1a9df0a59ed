package httpd

import (
	"smartwork_backend/internal/domain"
	"smartwork_backend/internal/usecase"
	"time"
)

type CreatePaymentReq struct {
	Plan string `json:"plan" validate:"required,max=32"`
}

type CheckReq struct {
	TransactionID string `json:"transactionId" validate:"omitempty,max=128"`
}

type PaymentItem struct {
	ID            string     `json:"id"`
	TeamID        string     `json:"teamId"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Provider      string     `json:"provider"`
	Plan          string     `json:"plan"`
	Status        string     `json:"status"`
	ReferenceCode string     `json:"referenceCode"`
	QRURL         string     `json:"qrUrl"`
	TransactionID string     `json:"transactionId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

type CreatePaymentResp struct {
	Created bool        `json:"created"`
	Payment PaymentItem `json:"payment"`
}

// ReconcileResp is returned with 200 by every reconciliation endpoint,
// whether or not the payment was confirmed.
type ReconcileResp struct {
	Success            bool         `json:"success"`
	Status             string       `json:"status,omitempty"`
	Message            string       `json:"message"`
	GatewayUnavailable bool         `json:"gatewayUnavailable"`
	Payment            *PaymentItem `json:"payment,omitempty"`
}

type TeamStatusResp struct {
	TeamID        string       `json:"teamId"`
	Plan          string       `json:"plan"`
	PlanExpiredAt *time.Time   `json:"planExpiredAt,omitempty"`
	LatestPayment *PaymentItem `json:"latestPayment,omitempty"`
}

func toPaymentItem(p *domain.Payment) PaymentItem {
	item := PaymentItem{
		ID:            p.ID,
		TeamID:        p.TeamID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Provider:      p.Provider,
		Plan:          string(p.Plan),
		Status:        string(p.Status),
		ReferenceCode: p.ReferenceCode,
		QRURL:         p.QRURL,
		TransactionID: p.TransactionID,
		CreatedAt:     p.CreatedAt,
		PaidAt:        p.PaidAt,
		FailedAt:      p.FailedAt,
		CancelledAt:   p.CancelledAt,
		FailureReason: p.FailureReason,
	}
	if !p.ExpiresAt.IsZero() {
		exp := p.ExpiresAt
		item.ExpiresAt = &exp
	}
	return item
}

func toReconcileResp(out usecase.Outcome) ReconcileResp {
	resp := ReconcileResp{
		Success:            out.Success,
		Status:             string(out.Status),
		Message:            out.Message,
		GatewayUnavailable: out.GatewayUnavailable,
	}
	if out.Payment != nil {
		item := toPaymentItem(out.Payment)
		resp.Payment = &item
	}
	return resp
}
