package usecase

import (
	"context"
	"errors"
	"fmt"
	"smartwork_backend/internal/domain"
	"smartwork_backend/internal/gateway"
	"smartwork_backend/internal/matcher"
	"smartwork_backend/internal/metrics"
	"time"

	"go.uber.org/zap"
)

type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerPoll    Trigger = "poll"
	TriggerCheck   Trigger = "check"
)

// Outcome is what a reconciliation attempt reports back to its caller.
// Payment is nil when a webhook could not be tied to any payment.
type Outcome struct {
	Status             domain.PaymentStatus
	Success            bool
	GatewayUnavailable bool
	Message            string
	Payment            *domain.Payment
}

const (
	msgSuccess     = "payment confirmed"
	msgPending     = "payment not received yet, try again later"
	msgUnavailable = "payment gateway unavailable, try again later"
	msgFailed      = "payment failed"
	msgCancelled   = "payment cancelled"
	msgNoTxID      = "no transaction to check, payment is still pending"
	msgTxNotFound  = "transaction not found at the gateway, payment is still pending"
	msgUnmatched   = "no pending payment matches this transaction"
	msgIgnored     = "event ignored"
)

// Reconciler confirms pending payments against bank transactions. Webhook,
// poll and single-transaction checks all go through it and may run
// concurrently for the same payment; the store's conditional commit is the
// only point where they serialize.
type Reconciler struct {
	store        PaymentStore
	source       TransactionSource
	matcher      *matcher.Matcher
	entitlements Entitler
	listLimit    int
	now          func() time.Time
	log          *zap.Logger
}

func NewReconciler(store PaymentStore, source TransactionSource, m *matcher.Matcher, entitlements Entitler, listLimit int, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:        store,
		source:       source,
		matcher:      m,
		entitlements: entitlements,
		listLimit:    listLimit,
		now:          time.Now,
		log:          logger,
	}
}

// VerifyByTransactions is the poll path: it matches the gateway's recent
// transactions against every pending payment and reports on paymentID.
func (r *Reconciler) VerifyByTransactions(ctx context.Context, paymentID string) (Outcome, error) {
	p, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status.Terminal() {
		return r.report(TriggerPoll, p, ""), nil
	}

	txs, err := r.source.ListTransactions(ctx, r.listLimit)
	if err != nil {
		return r.degraded(ctx, TriggerPoll, paymentID, err)
	}

	if _, err := r.reconcile(ctx, TriggerPoll, txs, nil); err != nil {
		return Outcome{}, err
	}
	return r.reread(ctx, TriggerPoll, paymentID, "")
}

// CheckTransaction is the light pull path: it fetches one named transaction.
// Without a transaction id it reports the stored state.
func (r *Reconciler) CheckTransaction(ctx context.Context, paymentID, transactionID string) (Outcome, error) {
	p, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status.Terminal() {
		return r.report(TriggerCheck, p, ""), nil
	}
	if transactionID == "" {
		return r.report(TriggerCheck, p, msgNoTxID), nil
	}

	tx, err := r.source.GetTransaction(ctx, transactionID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return r.report(TriggerCheck, p, msgTxNotFound), nil
	}
	if err != nil {
		return r.degraded(ctx, TriggerCheck, paymentID, err)
	}

	if _, err := r.reconcile(ctx, TriggerCheck, []domain.BankTransaction{*tx}, nil); err != nil {
		return Outcome{}, err
	}
	return r.reread(ctx, TriggerCheck, paymentID, "")
}

// HandleWebhook is the push path. When the event names a payment (by id or
// reference) only that payment is considered; otherwise every pending one.
func (r *Reconciler) HandleWebhook(ctx context.Context, ev gateway.WebhookEvent) (Outcome, error) {
	target, err := r.resolve(ctx, ev.OrderID)
	if err != nil {
		return Outcome{}, err
	}
	if target != nil && target.Status.Terminal() {
		return r.report(TriggerWebhook, target, ""), nil
	}

	if ev.Failed() {
		if target == nil {
			r.log.Warn("failure webhook for unknown payment", zap.String("order_id", ev.OrderID), zap.String("status", ev.Status))
			return r.ignored(), nil
		}
		if _, err := r.store.MarkFailed(ctx, target.ID, "gateway status "+ev.Status, r.now()); err != nil {
			return Outcome{}, fmt.Errorf("mark payment %s failed: %w", target.ID, err)
		}
		r.log.Info("payment marked failed", zap.String("payment_id", target.ID), zap.String("status", ev.Status))
		return r.reread(ctx, TriggerWebhook, target.ID, "")
	}

	if !ev.Incoming() {
		return r.ignored(), nil
	}

	var candidates []*domain.Payment
	if target != nil {
		candidates = []*domain.Payment{target}
	}

	tx := ev.Transaction()
	matched, err := r.reconcile(ctx, TriggerWebhook, []domain.BankTransaction{tx}, candidates)
	if err != nil {
		return Outcome{}, err
	}
	if target == nil && len(matched) == 0 {
		// Another path may have applied the transaction after it was read.
		if _, matched, err = r.unprocessed(ctx, []domain.BankTransaction{tx}); err != nil {
			return Outcome{}, err
		}
	}

	switch {
	case target != nil:
		return r.reread(ctx, TriggerWebhook, target.ID, "")
	case len(matched) == 1:
		return r.reread(ctx, TriggerWebhook, matched[0], "")
	}

	metrics.ReconcileOutcomes.WithLabelValues(string(TriggerWebhook), "unmatched").Inc()
	r.log.Info("webhook matched no payment",
		zap.String("transaction_id", ev.TransactionID),
		zap.String("amount", ev.Amount.String()),
		zap.String("content", ev.Content),
	)
	return Outcome{Status: domain.StatusPending, Message: msgUnmatched}, nil
}

func (r *Reconciler) resolve(ctx context.Context, orderID string) (*domain.Payment, error) {
	if orderID == "" {
		return nil, nil
	}

	p, err := r.store.GetPayment(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		p, err = r.store.GetPaymentByReference(ctx, orderID)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// reconcile matches txs against candidates (all pending payments when nil)
// and commits every match. It returns the ids of the payments the
// transactions belong to, whether this call, an earlier one or a concurrent
// one committed them.
func (r *Reconciler) reconcile(ctx context.Context, trigger Trigger, txs []domain.BankTransaction, candidates []*domain.Payment) ([]string, error) {
	txs, matched, err := r.unprocessed(ctx, txs)
	if err != nil || len(txs) == 0 {
		return matched, err
	}

	if candidates == nil {
		if candidates, err = r.store.ListPendingPayments(ctx); err != nil {
			return nil, err
		}
	}

	for _, m := range r.matcher.MatchAll(txs, candidates) {
		// A failed commit leaves its payment PENDING for the next attempt and
		// must not hold up the other matches.
		if err := r.commit(ctx, trigger, m); err != nil {
			r.log.Error("commit failed",
				zap.String("trigger", string(trigger)),
				zap.String("payment_id", m.Payment.ID),
				zap.String("transaction_id", m.Transaction.ExternalID),
				zap.Error(err),
			)
			continue
		}
		matched = append(matched, m.Payment.ID)
	}
	return matched, nil
}

// unprocessed drops transactions already applied to any payment and returns
// the ids of those payments alongside.
func (r *Reconciler) unprocessed(ctx context.Context, txs []domain.BankTransaction) ([]domain.BankTransaction, []string, error) {
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		if tx.Incoming && tx.ExternalID != "" {
			ids = append(ids, tx.ExternalID)
		}
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	seen, err := r.store.ProcessedTransactions(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	var applied []string
	out := make([]domain.BankTransaction, 0, len(ids))
	for _, tx := range txs {
		if !tx.Incoming || tx.ExternalID == "" {
			continue
		}
		if pid, done := seen[tx.ExternalID]; done {
			applied = append(applied, pid)
			continue
		}
		out = append(out, tx)
	}
	return out, applied, nil
}

func (r *Reconciler) commit(ctx context.Context, trigger Trigger, m matcher.Match) error {
	log := r.log.With(
		zap.String("trigger", string(trigger)),
		zap.String("payment_id", m.Payment.ID),
		zap.String("transaction_id", m.Transaction.ExternalID),
		zap.String("strategy", m.Strategy),
	)

	// The caller hanging up must not abort a settlement already under way.
	ctx = context.WithoutCancel(ctx)

	paidAt := r.now()
	grant := r.entitlements.Grant(m.Payment, paidAt)
	committed, err := r.store.CommitSuccess(ctx, m.Payment.ID, m.Transaction.ExternalID, paidAt, grant)
	switch {
	case errors.Is(err, domain.ErrDuplicateTransaction):
		metrics.Commits.WithLabelValues(m.Strategy, "duplicate").Inc()
		log.Info("transaction already applied")
		return nil
	case err != nil:
		metrics.Commits.WithLabelValues(m.Strategy, "error").Inc()
		return fmt.Errorf("commit payment %s: %w", m.Payment.ID, err)
	case !committed:
		metrics.Commits.WithLabelValues(m.Strategy, "lost").Inc()
		log.Info("payment already settled by another path")
		return nil
	}

	metrics.Commits.WithLabelValues(m.Strategy, "won").Inc()
	log.Info("payment confirmed, team upgraded",
		zap.String("team_id", grant.TeamID),
		zap.String("plan", string(grant.Plan)),
		zap.Time("plan_expired_at", grant.ExpiresAt),
	)
	return nil
}

func (r *Reconciler) degraded(ctx context.Context, trigger Trigger, paymentID string, cause error) (Outcome, error) {
	r.log.Warn("gateway call failed",
		zap.String("trigger", string(trigger)),
		zap.String("payment_id", paymentID),
		zap.Error(cause),
	)

	p, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status.Terminal() {
		return r.report(trigger, p, ""), nil
	}

	metrics.ReconcileOutcomes.WithLabelValues(string(trigger), "gateway_unavailable").Inc()
	return Outcome{
		Status:             p.Status,
		GatewayUnavailable: true,
		Message:            msgUnavailable,
		Payment:            p,
	}, nil
}

func (r *Reconciler) reread(ctx context.Context, trigger Trigger, paymentID, msg string) (Outcome, error) {
	p, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Outcome{}, err
	}
	return r.report(trigger, p, msg), nil
}

func (r *Reconciler) report(trigger Trigger, p *domain.Payment, msg string) Outcome {
	if msg == "" {
		switch p.Status {
		case domain.StatusSuccess:
			msg = msgSuccess
		case domain.StatusFailed:
			msg = msgFailed
		case domain.StatusCancelled:
			msg = msgCancelled
		default:
			msg = msgPending
		}
	}

	metrics.ReconcileOutcomes.WithLabelValues(string(trigger), string(p.Status)).Inc()
	return Outcome{
		Status:  p.Status,
		Success: p.Status == domain.StatusSuccess,
		Message: msg,
		Payment: p,
	}
}

func (r *Reconciler) ignored() Outcome {
	metrics.ReconcileOutcomes.WithLabelValues(string(TriggerWebhook), "ignored").Inc()
	return Outcome{Message: msgIgnored}
}
