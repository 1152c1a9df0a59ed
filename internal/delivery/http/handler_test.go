package httpd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"smartwork_backend/internal/domain"
	"smartwork_backend/internal/gateway"
	"smartwork_backend/internal/matcher"
	"smartwork_backend/internal/repository"
	"smartwork_backend/internal/usecase"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookKey = "whkey"

// fakeSePay serves the two gateway endpoints the service polls.
type fakeSePay struct {
	mu   sync.Mutex
	txs  []map[string]any
	down bool
}

func (s *fakeSePay) add(id string, amount int64, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append([]map[string]any{{
		"id":                  id,
		"account_number":      "0071000888888",
		"transaction_date":    "2026-03-25 14:02:37",
		"amount_in":           fmt.Sprintf("%d.00", amount),
		"amount_out":          "0.00",
		"transaction_content": content,
		"reference_number":    "FT" + id,
	}}, s.txs...)
}

func (s *fakeSePay) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *fakeSePay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	switch {
	case r.URL.Path == "/transactions/list":
		writeJSON(w, http.StatusOK, map[string]any{"status": 200, "transactions": s.txs})
	case strings.HasPrefix(r.URL.Path, "/transactions/details/"):
		id := strings.TrimPrefix(r.URL.Path, "/transactions/details/")
		for _, tx := range s.txs {
			if tx["id"] == id {
				writeJSON(w, http.StatusOK, map[string]any{"status": 200, "transaction": tx})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type server struct {
	repo   *repository.SQLiteRepo
	sepay  *fakeSePay
	routes http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.UpsertTeam(context.Background(), &domain.Team{ID: "acme", Name: "Acme", LeaderID: "leader"}))

	sepay := &fakeSePay{}
	srv := httptest.NewServer(sepay)
	t.Cleanup(srv.Close)

	client := gateway.NewSePayClient(gateway.Config{
		BaseURL:       srv.URL,
		QRBaseURL:     "https://qr.sepay.vn/img",
		APIToken:      "tok",
		AccountNumber: "0071000888888",
		BankName:      "Vietcombank",
		WebhookAPIKey: webhookKey,
		Timeout:       2 * time.Second,
	}, nil)
	t.Cleanup(client.Close)

	log := zap.NewNop()
	payments := usecase.NewPaymentUsecase(repo, repo, client, usecase.PaymentOptions{
		Currency:   "VND",
		Prices:     map[domain.Plan]int64{domain.PlanPremium: 10000},
		PendingTTL: 30 * time.Minute,
	}, log)
	entitlements := usecase.NewEntitlementPolicy(30 * 24 * time.Hour)
	reconciler := usecase.NewReconciler(repo, client, matcher.Default(), entitlements, 20, log)

	h := NewHandler(payments, reconciler, client, repo, log)
	return &server{repo: repo, sepay: sepay, routes: h.Routes([]string{"*"})}
}

func (s *server) do(t *testing.T, method, path, user, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, req)
	return rec
}

func (s *server) create(t *testing.T) PaymentItem {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/payments/teams/acme/create", "leader", `{"plan":"PREMIUM"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreatePaymentResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Created)
	return resp.Payment
}

func decodeReconcile(t *testing.T, rec *httptest.ResponseRecorder) ReconcileResp {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ReconcileResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func apiKey() http.Header {
	return http.Header{"Authorization": []string{"Apikey " + webhookKey}}
}

func TestUpgradeViaWebhook(t *testing.T) {
	s := newServer(t)

	p := s.create(t)
	assert.Equal(t, "PENDING", p.Status)
	assert.Equal(t, int64(10000), p.Amount)
	assert.Equal(t, "TKPVQ1_acme_"+p.ID, p.ReferenceCode)
	assert.Contains(t, p.QRURL, "https://qr.sepay.vn/img?")

	rec := s.do(t, http.MethodPost, "/payments/teams/acme/create", "leader", `{"plan":"premium"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var again CreatePaymentResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.False(t, again.Created)
	assert.Equal(t, p.ID, again.Payment.ID)

	body := fmt.Sprintf(`{"id":92704,"gateway":"Vietcombank","transferType":"in","transferAmount":10000,"content":"IBFT %s"}`, p.ReferenceCode)
	resp := decodeReconcile(t, s.do(t, http.MethodPost, "/payments/sepay/webhook", "", body, apiKey()))
	assert.True(t, resp.Success)
	assert.Equal(t, "SUCCESS", resp.Status)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "92704", resp.Payment.TransactionID)

	rec = s.do(t, http.MethodGet, "/payments/teams/acme/status", "leader", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status TeamStatusResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "PREMIUM", status.Plan)
	require.NotNil(t, status.PlanExpiredAt)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *status.PlanExpiredAt, time.Minute)
	require.NotNil(t, status.LatestPayment)
	assert.Equal(t, "SUCCESS", status.LatestPayment.Status)

	// Redelivery is acknowledged and changes nothing.
	resp = decodeReconcile(t, s.do(t, http.MethodPost, "/payments/sepay/webhook", "", body, apiKey()))
	assert.True(t, resp.Success)
	assert.Equal(t, p.ID, resp.Payment.ID)
}

func TestUpgradeViaPoll(t *testing.T) {
	s := newServer(t)
	p := s.create(t)
	path := "/payments/" + p.ID + "/verify-by-transaction"

	resp := decodeReconcile(t, s.do(t, http.MethodPost, path, "leader", "", nil))
	assert.False(t, resp.Success)
	assert.Equal(t, "PENDING", resp.Status)
	assert.False(t, resp.GatewayUnavailable)

	s.sepay.add("5001", 10000, "chuyen tien tkpvq1-acme-"+p.ID)
	resp = decodeReconcile(t, s.do(t, http.MethodPost, path, "leader", "", nil))
	assert.True(t, resp.Success)
	assert.Equal(t, "5001", resp.Payment.TransactionID)
}

func TestPollDegradesWhenGatewayDown(t *testing.T) {
	s := newServer(t)
	p := s.create(t)
	s.sepay.setDown(true)

	resp := decodeReconcile(t, s.do(t, http.MethodPost, "/payments/"+p.ID+"/verify-by-transaction", "leader", "", nil))
	assert.False(t, resp.Success)
	assert.True(t, resp.GatewayUnavailable)
	assert.Equal(t, "PENDING", resp.Status)

	resp = decodeReconcile(t, s.do(t, http.MethodPost, "/payments/"+p.ID+"/check", "leader", `{"transactionId":"5001"}`, nil))
	assert.True(t, resp.GatewayUnavailable)
}

func TestCheckTransaction(t *testing.T) {
	s := newServer(t)
	p := s.create(t)
	path := "/payments/" + p.ID + "/check"

	resp := decodeReconcile(t, s.do(t, http.MethodPost, path, "leader", "", nil))
	assert.Equal(t, "PENDING", resp.Status)
	assert.NotEmpty(t, resp.Message)

	resp = decodeReconcile(t, s.do(t, http.MethodPost, path, "leader", `{"transactionId":"404"}`, nil))
	assert.Equal(t, "PENDING", resp.Status)
	assert.False(t, resp.GatewayUnavailable)

	s.sepay.add("5002", 10000, p.ReferenceCode)
	resp = decodeReconcile(t, s.do(t, http.MethodPost, path, "leader", `{"transactionId":"5002"}`, nil))
	assert.True(t, resp.Success)
}

func TestWebhookRejectsBadKeyWithoutProcessing(t *testing.T) {
	s := newServer(t)
	p := s.create(t)

	body := fmt.Sprintf(`{"id":1,"transferAmount":10000,"content":"%s"}`, p.ReferenceCode)
	resp := decodeReconcile(t, s.do(t, http.MethodPost, "/payments/sepay/webhook", "", body,
		http.Header{"Authorization": []string{"Apikey wrong"}}))
	assert.False(t, resp.Success)

	got, err := s.repo.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestWebhookUnparseableBody(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/payments/sepay/webhook", "", "not json", apiKey())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeReconcile(t, s.do(t, http.MethodPost, "/payments/sepay/webhook", "", `{"foo":"bar"}`, apiKey()))
	assert.False(t, resp.Success)
}

func TestRequestErrors(t *testing.T) {
	s := newServer(t)
	p := s.create(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		code   int
	}{
		{"no identity", http.MethodPost, "/payments/teams/acme/create", "", `{"plan":"PREMIUM"}`, http.StatusUnauthorized},
		{"not leader", http.MethodPost, "/payments/teams/acme/create", "member", `{"plan":"PREMIUM"}`, http.StatusForbidden},
		{"unknown team", http.MethodPost, "/payments/teams/nope/create", "leader", `{"plan":"PREMIUM"}`, http.StatusNotFound},
		{"free plan", http.MethodPost, "/payments/teams/acme/create", "leader", `{"plan":"FREE"}`, http.StatusBadRequest},
		{"unknown plan", http.MethodPost, "/payments/teams/acme/create", "leader", `{"plan":"GOLD"}`, http.StatusBadRequest},
		{"missing plan", http.MethodPost, "/payments/teams/acme/create", "leader", `{}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/payments/teams/acme/create", "leader", `{`, http.StatusBadRequest},
		{"poll not leader", http.MethodPost, "/payments/" + p.ID + "/verify-by-transaction", "member", "", http.StatusForbidden},
		{"poll unknown payment", http.MethodPost, "/payments/missing/verify-by-transaction", "leader", "", http.StatusNotFound},
		{"check not leader", http.MethodPost, "/payments/" + p.ID + "/check", "member", "", http.StatusForbidden},
		{"get not leader", http.MethodGet, "/payments/" + p.ID, "member", "", http.StatusForbidden},
		{"status unknown team", http.MethodGet, "/payments/teams/nope/status", "leader", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.user, tt.body, nil)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCreateWithoutGatewayCredentials(t *testing.T) {
	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.UpsertTeam(context.Background(), &domain.Team{ID: "acme", LeaderID: "leader"}))

	client := gateway.NewSePayClient(gateway.Config{}, nil)
	log := zap.NewNop()
	payments := usecase.NewPaymentUsecase(repo, repo, client, usecase.PaymentOptions{
		Prices: map[domain.Plan]int64{domain.PlanPremium: 10000},
	}, log)
	reconciler := usecase.NewReconciler(repo, client, matcher.Default(), usecase.NewEntitlementPolicy(time.Hour), 20, log)
	routes := NewHandler(payments, reconciler, client, repo, log).Routes(nil)

	req := httptest.NewRequest(http.MethodPost, "/payments/teams/acme/create", strings.NewReader(`{"plan":"PREMIUM"}`))
	req.Header.Set(UserHeader, "leader")
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetAndCancelPayment(t *testing.T) {
	s := newServer(t)
	p := s.create(t)

	rec := s.do(t, http.MethodGet, "/payments/"+p.ID, "leader", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got PaymentItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, p.ReferenceCode, got.ReferenceCode)
	require.NotNil(t, got.ExpiresAt)

	rec = s.do(t, http.MethodPost, "/payments/"+p.ID+"/cancel", "member", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/payments/"+p.ID+"/cancel", "leader", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "CANCELLED", got.Status)
	assert.NotNil(t, got.CancelledAt)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
