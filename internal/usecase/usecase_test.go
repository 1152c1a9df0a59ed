package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"smartwork_backend/internal/domain"
	"smartwork_backend/internal/gateway"
	"smartwork_backend/internal/matcher"
	"smartwork_backend/internal/repository"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGateway struct {
	mu         sync.Mutex
	txs        []domain.BankTransaction
	err        error
	configured bool
	listCalls  int
}

func (g *fakeGateway) ListTransactions(_ context.Context, _ int) ([]domain.BankTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	if g.err != nil {
		return nil, g.err
	}
	return append([]domain.BankTransaction(nil), g.txs...), nil
}

func (g *fakeGateway) GetTransaction(_ context.Context, id string) (*domain.BankTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	for _, tx := range g.txs {
		if tx.ExternalID == id {
			tx := tx
			return &tx, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) QRCodeURL(amount int64, description string) string {
	return "https://qr.test/img?des=" + description
}

func (g *fakeGateway) push(tx domain.BankTransaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.txs = append([]domain.BankTransaction{tx}, g.txs...)
}

func (g *fakeGateway) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listCalls
}

// countingStore counts the grants committed through the wrapped repository
// and can fail the next commits as a rolled back transaction would.
type countingStore struct {
	*repository.SQLiteRepo

	mu           sync.Mutex
	calls        map[string]int
	first        map[string]time.Time
	failures     int
	beforeCommit func()
}

func (s *countingStore) CommitSuccess(ctx context.Context, id, externalID string, paidAt time.Time, grant domain.Entitlement) (bool, error) {
	s.mu.Lock()
	hook := s.beforeCommit
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return false, errors.New("database is locked")
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	ok, err := s.SQLiteRepo.CommitSuccess(ctx, id, externalID, paidAt, grant)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok && err == nil {
		s.calls[grant.TeamID]++
		if _, seen := s.first[grant.TeamID]; !seen {
			s.first[grant.TeamID] = grant.ExpiresAt
		}
	}
	return ok, err
}

func (s *countingStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *countingStore) count(teamID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[teamID]
}

const planDuration = 30 * 24 * time.Hour

type fixture struct {
	repo     *repository.SQLiteRepo
	gw       *fakeGateway
	grants   *countingStore
	payments *PaymentUsecase
	rec      *Reconciler
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	log := zap.NewNop()

	grants := &countingStore{SQLiteRepo: repo, calls: map[string]int{}, first: map[string]time.Time{}}

	gw := &fakeGateway{configured: true}
	payments := NewPaymentUsecase(repo, repo, gw, PaymentOptions{
		Currency:   "VND",
		Prices:     map[domain.Plan]int64{domain.PlanPremium: 10000},
		PendingTTL: 30 * time.Minute,
	}, log)
	payments.now = clock

	rec := NewReconciler(grants, gw, matcher.Default(), NewEntitlementPolicy(planDuration), 20, log)
	rec.now = clock

	f := &fixture{repo: repo, gw: gw, grants: grants, payments: payments, rec: rec, now: now}
	f.team(t, "acme", "leader")
	return f
}

func (f *fixture) team(t *testing.T, id, leader string) {
	t.Helper()
	require.NoError(t, f.repo.UpsertTeam(context.Background(), &domain.Team{ID: id, Name: id, LeaderID: leader}))
}

func (f *fixture) open(t *testing.T, teamID, leader string) *domain.Payment {
	t.Helper()
	p, created, err := f.payments.CreatePayment(context.Background(), leader, teamID, domain.PlanPremium)
	require.NoError(t, err)
	require.True(t, created)
	return p
}

func bankTx(id string, amount int64, content string) domain.BankTransaction {
	return domain.BankTransaction{
		ExternalID: id,
		Amount:     decimal.NewFromInt(amount),
		Content:    content,
		Incoming:   true,
	}
}

func webhook(t *testing.T, body string) gateway.WebhookEvent {
	t.Helper()
	ev, err := gateway.ParseWebhook([]byte(body))
	require.NoError(t, err)
	return ev
}
