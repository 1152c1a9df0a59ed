package gateway

import (
	"smartwork_backend/internal/domain"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhookSePayShape(t *testing.T) {
	body := `{
		"id": 92704,
		"gateway": "Vietcombank",
		"transactionDate": "2026-03-25 14:02:37",
		"accountNumber": "0071000888888",
		"code": null,
		"content": "chuyen tien TKPVQ1_acme_65f0",
		"transferType": "in",
		"transferAmount": 10000,
		"accumulated": 19077000,
		"subAccount": null,
		"referenceCode": "MBVCB.3278907687",
		"description": ""
	}`

	ev, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "92704", ev.TransactionID)
	assert.Equal(t, "", ev.OrderID)
	assert.Equal(t, "10000", ev.Amount.String())
	assert.Equal(t, "chuyen tien TKPVQ1_acme_65f0", ev.Content)
	assert.Equal(t, "MBVCB.3278907687", ev.BankReference)
	assert.True(t, ev.Incoming())
	assert.False(t, ev.Failed())

	tx := ev.Transaction()
	assert.Equal(t, "92704", tx.ExternalID)
	assert.True(t, tx.Incoming)
	assert.Equal(t, "chuyen tien TKPVQ1_acme_65f0", tx.RawText())
}

func TestParseWebhookAlternateNames(t *testing.T) {
	body := `{"data": {"transaction_id": "abc", "order_id": "65f0", "status": "FAILED", "amount": "10,000", "description": "memo"}}`

	ev, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "abc", ev.TransactionID)
	assert.Equal(t, "65f0", ev.OrderID)
	assert.True(t, ev.Failed())
	assert.Equal(t, "10000", ev.Amount.String())
	assert.Equal(t, "memo", ev.Transaction().RawText())
}

func TestParseWebhookOutgoing(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{"id":"1","transferType":"out","transferAmount":5}`))
	require.NoError(t, err)
	assert.False(t, ev.Incoming())
	assert.False(t, ev.Transaction().Incoming)
}

func TestParseWebhookRejectsNonObject(t *testing.T) {
	for _, body := range []string{"", "not json", "[1,2]", "null"} {
		_, err := ParseWebhook([]byte(body))
		assert.ErrorIs(t, err, domain.ErrInvalidWebhook, body)
	}
}

func TestParseWebhookToleratesMissingFields(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{}`))
	require.NoError(t, err)
	assert.True(t, ev.Amount.IsZero())
	assert.Empty(t, ev.TransactionID)
}

func TestWebhookTransactionDerivesStableID(t *testing.T) {
	body := []byte(`{"content":"TKPVQ1_acme_65f0","amount":10000}`)
	a, err := ParseWebhook(body)
	require.NoError(t, err)
	b, err := ParseWebhook(body)
	require.NoError(t, err)

	id := a.Transaction().ExternalID
	assert.Regexp(t, `^wh_[0-9a-f]{24}$`, id)
	assert.Equal(t, id, b.Transaction().ExternalID)

	c, err := ParseWebhook([]byte(`{"content":"TKPVQ1_acme_65f0","amount":20000}`))
	require.NoError(t, err)
	assert.NotEqual(t, id, c.Transaction().ExternalID)
}

func TestParseWebhookAmountFormats(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"amount": 10000}`, "10000"},
		{`{"amount": 10000.5}`, "10000.5"},
		{`{"amount": "10000"}`, "10000"},
		{`{"amount": "10000.00"}`, "10000"},
		{`{"amount": "10,000"}`, "10000"},
		{`{"amount": "10.000"}`, "10000"},
		{`{"amount": "1.250.000"}`, "1250000"},
		{`{"amount": "1,250,000.50"}`, "1250000.5"},
		{`{"amount": "1.250.000,50"}`, "1250000.5"},
		{`{"amount": "10 000"}`, "10000"},
		{`{"amount": "12,5"}`, "12.5"},
		{`{"amount": "abc"}`, "0"},
	}

	for _, tt := range tests {
		ev, err := ParseWebhook([]byte(tt.body))
		require.NoError(t, err)
		assert.Equal(t, tt.want, ev.Amount.String(), tt.body)
	}
}
