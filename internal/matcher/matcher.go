// Package matcher pairs bank transactions with pending payments.
package matcher

import (
	"smartwork_backend/internal/domain"

	"github.com/shopspring/decimal"
)

type Match struct {
	Payment     *domain.Payment
	Transaction domain.BankTransaction
	Strategy    string
}

type Matcher struct {
	strategies []Strategy
}

func New(strategies ...Strategy) *Matcher {
	return &Matcher{strategies: strategies}
}

// Default returns the strategies ordered from most to least specific.
func Default() *Matcher {
	return New(
		ExactReference(),
		NormalizedReference(),
		CompactReference(),
		PaymentID(),
		TeamPrefix(),
		AmountWithFragment(),
		AmountOnly(),
	)
}

// Match finds at most one candidate for tx. Candidates whose amount differs
// from the transaction are never offered to a strategy, and a hit whose
// ledger already holds tx.ExternalID is discarded.
func (m *Matcher) Match(tx domain.BankTransaction, candidates []*domain.Payment) (Match, bool) {
	if !tx.Incoming || tx.ExternalID == "" || !tx.Amount.IsPositive() {
		return Match{}, false
	}

	sameAmount := withAmount(tx.Amount, candidates)
	if len(sameAmount) == 0 {
		return Match{}, false
	}

	for _, s := range m.strategies {
		hits := unprocessed(tx.ExternalID, s.Match(tx, sameAmount))
		if len(hits) == 1 {
			return Match{Payment: hits[0], Transaction: tx, Strategy: s.Name()}, true
		}
	}
	return Match{}, false
}

// MatchAll matches every transaction in txs. A payment is claimed by at most
// one transaction and a transaction id is considered once.
func (m *Matcher) MatchAll(txs []domain.BankTransaction, candidates []*domain.Payment) []Match {
	remaining := append([]*domain.Payment(nil), candidates...)
	seen := make(map[string]struct{}, len(txs))

	var out []Match
	for _, tx := range txs {
		if _, dup := seen[tx.ExternalID]; dup {
			continue
		}
		seen[tx.ExternalID] = struct{}{}

		match, ok := m.Match(tx, remaining)
		if !ok {
			continue
		}
		out = append(out, match)
		remaining = without(remaining, match.Payment.ID)
	}
	return out
}

func withAmount(amount decimal.Decimal, candidates []*domain.Payment) []*domain.Payment {
	var out []*domain.Payment
	for _, p := range candidates {
		if p.Status == domain.StatusPending && decimal.NewFromInt(p.Amount).Equal(amount) {
			out = append(out, p)
		}
	}
	return out
}

func unprocessed(externalID string, hits []*domain.Payment) []*domain.Payment {
	out := hits[:0:0]
	for _, p := range hits {
		if !p.Processed(externalID) {
			out = append(out, p)
		}
	}
	return out
}

func without(candidates []*domain.Payment, id string) []*domain.Payment {
	out := candidates[:0]
	for _, p := range candidates {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
