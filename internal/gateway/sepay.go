// Package gateway talks to the SePay banking gateway: it lists and fetches
// bank transactions of the receiving account, renders transfer QR codes and
// authenticates inbound webhooks.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"smartwork_backend/internal/domain"
	"smartwork_backend/internal/metrics"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL           string
	QRBaseURL         string
	APIToken          string
	AccountNumber     string
	BankName          string
	WebhookAPIKey     string
	WebhookHMACSecret string
	SigMaxAge         time.Duration
	Timeout           time.Duration
}

// SePayClient is created once per process and closed on shutdown.
type SePayClient struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// NewSePayClient builds a client over hc. A nil hc gets a dedicated
// http.Client bounded by cfg.Timeout.
func NewSePayClient(cfg Config, hc *http.Client) *SePayClient {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SePayClient{cfg: cfg, http: hc, now: time.Now}
}

func (c *SePayClient) Close() {
	c.http.CloseIdleConnections()
}

// Configured reports whether the credentials needed to take payments are set.
func (c *SePayClient) Configured() bool {
	return c.cfg.APIToken != "" && c.cfg.AccountNumber != "" && c.cfg.BankName != ""
}

// QRCodeURL renders the image URL of a transfer QR code for amount with
// description prefilled.
func (c *SePayClient) QRCodeURL(amount int64, description string) string {
	v := url.Values{}
	v.Set("acc", c.cfg.AccountNumber)
	v.Set("bank", c.cfg.BankName)
	v.Set("amount", strconv.FormatInt(amount, 10))
	v.Set("des", description)
	return c.cfg.QRBaseURL + "?" + v.Encode()
}

type sepayTransaction struct {
	ID                 flexString      `json:"id"`
	BankBrandName      string          `json:"bank_brand_name"`
	AccountNumber      string          `json:"account_number"`
	TransactionDate    string          `json:"transaction_date"`
	AmountIn           decimal.Decimal `json:"amount_in"`
	AmountOut          decimal.Decimal `json:"amount_out"`
	TransactionContent string          `json:"transaction_content"`
	ReferenceNumber    string          `json:"reference_number"`
	Code               *string         `json:"code"`
}

type listResp struct {
	Status       int                `json:"status"`
	Transactions []sepayTransaction `json:"transactions"`
}

type detailResp struct {
	Status      int               `json:"status"`
	Transaction *sepayTransaction `json:"transaction"`
}

// ListTransactions returns the limit most recent transactions of the
// receiving account, newest first.
func (c *SePayClient) ListTransactions(ctx context.Context, limit int) ([]domain.BankTransaction, error) {
	q := url.Values{}
	q.Set("account_number", c.cfg.AccountNumber)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp listResp
	if err := c.get(ctx, "list", "/transactions/list?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]domain.BankTransaction, 0, len(resp.Transactions))
	for _, t := range resp.Transactions {
		out = append(out, t.toDomain())
	}
	return out, nil
}

// GetTransaction fetches one transaction by its gateway id.
func (c *SePayClient) GetTransaction(ctx context.Context, id string) (*domain.BankTransaction, error) {
	var resp detailResp
	if err := c.get(ctx, "details", "/transactions/details/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	if resp.Transaction == nil || resp.Transaction.ID == "" {
		return nil, domain.ErrTransactionNotFound
	}

	t := resp.Transaction.toDomain()
	return &t, nil
}

func (c *SePayClient) get(ctx context.Context, op, path string, v any) (err error) {
	start := c.now()
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, domain.ErrTransactionNotFound):
			result = "not_found"
		case err != nil:
			result = "unavailable"
		}
		metrics.GatewayRequests.WithLabelValues(op, result).Inc()
		metrics.GatewayLatency.WithLabelValues(op).Observe(c.now().Sub(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound && op == "details" {
		return domain.ErrTransactionNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("%w: %s %s", domain.ErrGatewayUnavailable, op, res.Status)
	}

	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrGatewayUnavailable, op, err)
	}
	return nil
}

// bankZone is the zone SePay reports transaction dates in.
var bankZone = time.FixedZone("ICT", 7*60*60)

func (t sepayTransaction) toDomain() domain.BankTransaction {
	out := domain.BankTransaction{
		ExternalID:      string(t.ID),
		Content:         t.TransactionContent,
		ReferenceNumber: t.ReferenceNumber,
		AccountNumber:   t.AccountNumber,
		Amount:          t.AmountIn,
		Incoming:        t.AmountIn.IsPositive(),
	}
	if !out.Incoming {
		out.Amount = t.AmountOut
	}
	if t.Code != nil && *t.Code != "" && !strings.Contains(t.TransactionContent, *t.Code) {
		out.Description = *t.Code
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", t.TransactionDate, bankZone); err == nil {
		out.OccurredAt = ts
	}
	return out
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}
