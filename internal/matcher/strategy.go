package matcher

import (
	"smartwork_backend/internal/domain"
	"smartwork_backend/internal/reference"
	"strings"
)

// Strategy is one matching tier. Match returns every candidate the tier
// accepts for tx; the Matcher only resolves a tier that accepts exactly one.
type Strategy interface {
	Name() string
	Match(tx domain.BankTransaction, candidates []*domain.Payment) []*domain.Payment
}

// containsStrategy accepts a candidate when its needle occurs in the
// transaction text.
type containsStrategy struct {
	name       string
	normalized bool
	needle     func(p *domain.Payment) string
}

func (s containsStrategy) Name() string { return s.name }

func (s containsStrategy) Match(tx domain.BankTransaction, candidates []*domain.Payment) []*domain.Payment {
	hay := tx.RawText()
	if s.normalized {
		hay = reference.Normalize(hay)
	}
	if hay == "" {
		return nil
	}

	var hits []*domain.Payment
	for _, p := range candidates {
		if n := s.needle(p); n != "" && strings.Contains(hay, n) {
			hits = append(hits, p)
		}
	}
	return hits
}

// ExactReference matches the stored reference code verbatim.
func ExactReference() Strategy {
	return containsStrategy{
		name:   "exact-reference",
		needle: func(p *domain.Payment) string { return p.ReferenceCode },
	}
}

// NormalizedReference matches the reference after both sides lose
// punctuation and case.
func NormalizedReference() Strategy {
	return containsStrategy{
		name:       "normalized-reference",
		normalized: true,
		needle:     func(p *domain.Payment) string { return reference.Normalize(p.ReferenceCode) },
	}
}

// CompactReference matches prefix, full team id and payment id rebuilt from
// the payment itself rather than the stored code.
func CompactReference() Strategy {
	return containsStrategy{
		name:       "compact-reference",
		normalized: true,
		needle:     func(p *domain.Payment) string { return reference.Compact(p.TeamID, p.ID) },
	}
}

// PaymentID matches the bare payment id.
func PaymentID() Strategy {
	return containsStrategy{
		name:       "payment-id",
		normalized: true,
		needle:     func(p *domain.Payment) string { return reference.Normalize(p.ID) },
	}
}

// TeamPrefix matches prefix and team without the payment id. Two payments of
// the same team both hit, which leaves the tier unresolved.
func TeamPrefix() Strategy {
	return containsStrategy{
		name:       "team-prefix",
		normalized: true,
		needle:     func(p *domain.Payment) string { return reference.TeamTag(p.TeamID) },
	}
}

const (
	minFragment       = 4
	paymentIDFragment = 8
)

type amountWithFragment struct{}

// AmountWithFragment accepts a same-amount candidate whose team short id or
// trailing payment id characters appear anywhere in the text. Payment ids are
// time ordered, so their leading characters are shared by every payment
// minted in the same minute and only the tail tells them apart.
func AmountWithFragment() Strategy { return amountWithFragment{} }

func (amountWithFragment) Name() string { return "amount-with-fragment" }

func (amountWithFragment) Match(tx domain.BankTransaction, candidates []*domain.Payment) []*domain.Payment {
	hay := reference.Normalize(tx.RawText())
	if hay == "" {
		return nil
	}

	var hits []*domain.Payment
	for _, p := range candidates {
		for _, frag := range fragments(p) {
			if strings.Contains(hay, frag) {
				hits = append(hits, p)
				break
			}
		}
	}
	return hits
}

func fragments(p *domain.Payment) []string {
	var out []string
	if team := reference.Normalize(reference.TeamShort(p.TeamID)); len(team) >= minFragment {
		out = append(out, team)
	}
	id := reference.Normalize(p.ID)
	if len(id) > paymentIDFragment {
		id = id[len(id)-paymentIDFragment:]
	}
	if len(id) >= minFragment {
		out = append(out, id)
	}
	return out
}

type amountOnly struct{}

// AmountOnly accepts the sole candidate carrying the amount. With two or
// more candidates it accepts nothing.
func AmountOnly() Strategy { return amountOnly{} }

func (amountOnly) Name() string { return "amount-only" }

func (amountOnly) Match(_ domain.BankTransaction, candidates []*domain.Payment) []*domain.Payment {
	if len(candidates) != 1 {
		return nil
	}
	return candidates
}
