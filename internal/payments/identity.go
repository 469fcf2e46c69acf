package payments

import (
	"milenio/internal/psp"
	"milenio/internal/repo"
)

// identityMatches reports whether a payer registration equals the user's CPF or CNPJ.
// Formatting is ignored. An empty registration never matches.
func identityMatches(registration string, u repo.User) bool {
	reg := psp.DigitsOnly(registration)
	if reg == "" {
		return false
	}
	for _, doc := range []string{u.CPF, u.CNPJ} {
		if d := psp.DigitsOnly(doc); d != "" && d == reg {
			return true
		}
	}
	return false
}
