package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"smartwork_backend/internal/domain"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// WebhookEvent is what could be read from a webhook body. The gateway does
// not fix its payload shape, so every field is optional.
type WebhookEvent struct {
	TransactionID string
	OrderID       string
	Status        string
	Amount        decimal.Decimal
	Content       string
	Description   string
	TransferType  string
	AccountNumber string
	BankReference string
}

var (
	transactionIDKeys = []string{"id", "transactionId", "transaction_id", "txnId"}
	orderIDKeys       = []string{"orderId", "order_id", "paymentId", "payment_id", "code"}
	statusKeys        = []string{"status", "transactionStatus", "transaction_status"}
	amountKeys        = []string{"transferAmount", "transfer_amount", "amount", "amount_in", "amountIn"}
	contentKeys       = []string{"content", "transactionContent", "transaction_content"}
	descriptionKeys   = []string{"description", "desc"}
	transferTypeKeys  = []string{"transferType", "transfer_type"}
	accountKeys       = []string{"accountNumber", "account_number"}
	bankRefKeys       = []string{"referenceCode", "reference_number", "referenceNumber"}
)

// ParseWebhook decodes body, which must be a JSON object. Fields are looked
// up under each known name, first at the top level and then inside a "data"
// object if present.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil || root == nil {
		return WebhookEvent{}, fmt.Errorf("%w: body is not a JSON object", domain.ErrInvalidWebhook)
	}

	scopes := []map[string]any{root}
	if data, ok := root["data"].(map[string]any); ok {
		scopes = append(scopes, data)
	}
	lookup := func(keys []string) any {
		for _, m := range scopes {
			for _, k := range keys {
				if stringify(m[k]) != "" {
					return m[k]
				}
			}
		}
		return nil
	}
	field := func(keys []string) string { return stringify(lookup(keys)) }

	ev := WebhookEvent{
		TransactionID: field(transactionIDKeys),
		OrderID:       field(orderIDKeys),
		Status:        field(statusKeys),
		Content:       field(contentKeys),
		Description:   field(descriptionKeys),
		TransferType:  strings.ToLower(field(transferTypeKeys)),
		AccountNumber: field(accountKeys),
		BankReference: field(bankRefKeys),
		Amount:        parseAmount(lookup(amountKeys)),
	}
	return ev, nil
}

var thousandsGrouped = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$|^\d{1,3}(,\d{3})+$`)

// parseAmount reads a transfer amount; unreadable values are zero. JSON
// numbers are taken as is. In strings either "," or "." may group thousands
// ("10.000" is ten thousand dong). When both appear the last one is the
// decimal point.
func parseAmount(v any) decimal.Decimal {
	s := stringify(v)
	if _, num := v.(json.Number); !num {
		s = strings.ReplaceAll(s, " ", "")
		dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
		switch {
		case thousandsGrouped.MatchString(s):
			s = strings.NewReplacer(".", "", ",", "").Replace(s)
		case dot >= 0 && comma >= 0 && comma > dot:
			s = strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		case dot >= 0 && comma >= 0:
			s = strings.ReplaceAll(s, ",", "")
		default:
			s = strings.Replace(s, ",", ".", 1)
		}
	}

	a, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return a
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// Incoming reports whether the event describes money arriving.
func (e WebhookEvent) Incoming() bool {
	return e.TransferType == "" || e.TransferType == "in" || e.TransferType == "credit"
}

// Failed reports an explicit negative status from the gateway.
func (e WebhookEvent) Failed() bool {
	switch strings.ToLower(e.Status) {
	case "failed", "failure", "fail", "error", "rejected", "cancelled", "canceled", "expired":
		return true
	}
	return false
}

// Transaction converts the event for matching. Events without a gateway id
// get one derived from their content, so a redelivered event keeps its id.
func (e WebhookEvent) Transaction() domain.BankTransaction {
	id := e.TransactionID
	if id == "" {
		sum := sha256.Sum256([]byte(strings.Join([]string{
			e.OrderID, e.Amount.String(), e.Content, e.Description, e.BankReference, e.AccountNumber,
		}, "\x1f")))
		id = "wh_" + hex.EncodeToString(sum[:12])
	}

	return domain.BankTransaction{
		ExternalID:      id,
		Amount:          e.Amount,
		Content:         e.Content,
		Description:     e.Description,
		ReferenceNumber: e.BankReference,
		AccountNumber:   e.AccountNumber,
		Incoming:        e.Incoming(),
	}
}

// VerifyWebhook authenticates an inbound webhook. With an API key configured
// the request must carry "Authorization: Apikey <key>"; with an HMAC secret
// it must carry X-Timestamp and an X-Signature over body + "." + timestamp.
// With neither configured every request is accepted.
func (c *SePayClient) VerifyWebhook(h http.Header, body []byte) error {
	if c.cfg.WebhookAPIKey != "" {
		scheme, key, _ := strings.Cut(strings.TrimSpace(h.Get("Authorization")), " ")
		if !strings.EqualFold(scheme, "Apikey") ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(c.cfg.WebhookAPIKey)) != 1 {
			return fmt.Errorf("%w: bad api key", domain.ErrInvalidWebhook)
		}
	}

	if c.cfg.WebhookHMACSecret != "" {
		ts := h.Get("X-Timestamp")
		sig := h.Get("X-Signature")
		if ts == "" || sig == "" {
			return fmt.Errorf("%w: missing signature headers", domain.ErrInvalidWebhook)
		}

		tsInt, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid timestamp", domain.ErrInvalidWebhook)
		}

		maxAge := int64(c.cfg.SigMaxAge.Seconds())
		if maxAge > 0 && c.now().Unix()-tsInt > maxAge {
			return fmt.Errorf("%w: signature expired", domain.ErrInvalidWebhook)
		}

		if !hmac.Equal([]byte(Sign(c.cfg.WebhookHMACSecret, body, ts)), []byte(sig)) {
			return fmt.Errorf("%w: invalid signature", domain.ErrInvalidWebhook)
		}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body + "." + ts.
func Sign(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("." + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
