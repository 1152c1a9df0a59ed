package usecase

import (
	"context"
	"errors"
	"fmt"
	"smartwork_backend/internal/domain"
	"smartwork_backend/internal/reference"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PaymentOptions struct {
	Currency   string
	Prices     map[domain.Plan]int64
	PendingTTL time.Duration
}

// PaymentUsecase opens and manages payments on behalf of team leaders.
type PaymentUsecase struct {
	payments PaymentStore
	teams    TeamStore
	checkout CheckoutGateway
	opts     PaymentOptions
	now      func() time.Time
	log      *zap.Logger
}

func NewPaymentUsecase(payments PaymentStore, teams TeamStore, checkout CheckoutGateway, opts PaymentOptions, logger *zap.Logger) *PaymentUsecase {
	return &PaymentUsecase{
		payments: payments,
		teams:    teams,
		checkout: checkout,
		opts:     opts,
		now:      time.Now,
		log:      logger,
	}
}

// CreatePayment returns the team's live PENDING payment for plan, or opens a
// new one with a fresh reference code and QR code. created reports which.
func (u *PaymentUsecase) CreatePayment(ctx context.Context, userID, teamID string, plan domain.Plan) (*domain.Payment, bool, error) {
	team, err := u.teams.GetTeam(ctx, teamID)
	if err != nil {
		return nil, false, err
	}
	if !team.IsLeader(userID) {
		return nil, false, domain.ErrForbidden
	}

	amount, ok := u.opts.Prices[plan]
	if !ok || amount <= 0 {
		return nil, false, fmt.Errorf("%w: %s is not purchasable", domain.ErrInvalidPlan, plan)
	}
	if !u.checkout.Configured() {
		return nil, false, domain.ErrConfiguration
	}

	now := u.now().UTC()
	id := newPaymentID()
	ref := reference.Encode(team.ID, id)
	p := &domain.Payment{
		ID:            id,
		TeamID:        team.ID,
		Amount:        amount,
		Currency:      u.opts.Currency,
		Provider:      domain.ProviderSePay,
		Plan:          plan,
		ReferenceCode: ref,
		QRURL:         u.checkout.QRCodeURL(amount, ref),
		CreatedBy:     userID,
		CreatedAt:     now,
	}
	if u.opts.PendingTTL > 0 {
		p.ExpiresAt = now.Add(u.opts.PendingTTL)
	}

	got, created, err := u.payments.CreatePendingPayment(ctx, p, now)
	if err != nil {
		return nil, false, fmt.Errorf("create payment: %w", err)
	}

	u.log.Info("payment requested",
		zap.String("payment_id", got.ID),
		zap.String("team_id", team.ID),
		zap.String("plan", string(plan)),
		zap.Int64("amount", got.Amount),
		zap.Bool("created", created),
	)
	return got, created, nil
}

// newPaymentID returns 24 hex characters of a UUIDv7, time ordered and short
// enough for a bank transfer description.
func newPaymentID() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")[:24]
}

func (u *PaymentUsecase) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return u.payments.GetPayment(ctx, id)
}

// TeamStatus returns the team and its latest payment, nil if it has none.
func (u *PaymentUsecase) TeamStatus(ctx context.Context, teamID string) (*domain.Team, *domain.Payment, error) {
	team, err := u.teams.GetTeam(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}

	latest, err := u.payments.LatestPaymentForTeam(ctx, teamID)
	if errors.Is(err, domain.ErrNotFound) {
		return team, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return team, latest, nil
}

// AuthorizeLeader loads the payment and checks userID leads its team.
func (u *PaymentUsecase) AuthorizeLeader(ctx context.Context, userID, paymentID string) (*domain.Payment, error) {
	p, err := u.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	team, err := u.teams.GetTeam(ctx, p.TeamID)
	if err != nil {
		return nil, err
	}
	if !team.IsLeader(userID) {
		return nil, domain.ErrForbidden
	}
	return p, nil
}

// Cancel moves a PENDING payment to CANCELLED. Cancelling a payment that
// already reached a terminal state returns it unchanged.
func (u *PaymentUsecase) Cancel(ctx context.Context, userID, paymentID string) (*domain.Payment, error) {
	if _, err := u.AuthorizeLeader(ctx, userID, paymentID); err != nil {
		return nil, err
	}

	ok, err := u.payments.Cancel(ctx, paymentID, u.now())
	if err != nil {
		return nil, fmt.Errorf("cancel payment: %w", err)
	}
	if ok {
		u.log.Info("payment cancelled", zap.String("payment_id", paymentID), zap.String("user_id", userID))
	}
	return u.payments.GetPayment(ctx, paymentID)
}
