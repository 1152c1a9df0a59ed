// Package reference mints the transfer description a payer types into a bank
// form and normalizes bank text so the two can be compared.
package reference

import (
	"strings"
	"unicode"
)

// Prefix marks transfer descriptions minted by this service.
const Prefix = "TKPVQ1"

const (
	separator    = "_"
	maxTeamShort = 12
)

// Encode returns the reference code for a payment of the given team.
// It only uses letters, digits and underscores, which bank forms accept.
func Encode(teamID, paymentID string) string {
	return Prefix + separator + TeamShort(teamID) + separator + alnum(paymentID)
}

// TeamShort is the team identifier as embedded in reference codes.
func TeamShort(teamID string) string {
	s := alnum(teamID)
	if len(s) > maxTeamShort {
		s = s[:maxTeamShort]
	}
	return s
}

// Normalize strips every non-alphanumeric rune and lowercases the rest.
func Normalize(text string) string {
	return strings.ToLower(alnum(text))
}

// Compact is the separator-free form rebuilt from the full team id, for banks
// that squash the whole description.
func Compact(teamID, paymentID string) string {
	return Normalize(Prefix + teamID + paymentID)
}

// TeamTag is the normalized prefix and team part without the payment id.
func TeamTag(teamID string) string {
	return Normalize(Prefix + TeamShort(teamID))
}

func alnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
