package refserver

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeName canonicalizes a supplier name for comparison: Unicode
// compatibility normalization plus case folding, so "métalpro" matches
// "MétalPro Industries" and width or ligature variants compare equal.
// A cases.Caser is stateful, so one is built per call.
func normalizeName(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

// normalizeTaxID canonicalizes a tax identifier (uppercase, no spaces).
func normalizeTaxID(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

// normalizeIBAN strips spacing and uppercases. IBANs are frequently
// extracted with display grouping ("FR76 3000 6000 ...").
func normalizeIBAN(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
