package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankTransaction is one incoming (or outgoing) transfer as reported by the
// gateway, either through its transaction list or a webhook.
type BankTransaction struct {
	ExternalID      string
	Amount          decimal.Decimal
	Content         string
	Description     string
	ReferenceNumber string
	AccountNumber   string
	Incoming        bool
	OccurredAt      time.Time
}

// RawText is the free text matched against payment references.
func (t BankTransaction) RawText() string {
	switch {
	case t.Description == "" || t.Description == t.Content:
		return t.Content
	case t.Content == "":
		return t.Description
	}
	return t.Content + " " + t.Description
}
