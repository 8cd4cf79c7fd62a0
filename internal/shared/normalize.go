package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// NormalizeKey canonicalises uniqueness-sensitive master data fields
// (company names, GST numbers, SKUs): Unicode NFC, case fold, collapsed
// inner whitespace. Comparing normalized keys makes "Acme  GmbH" and
// "ACME GmbH" collide as intended.
func NormalizeKey(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = foldCaser.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeCode canonicalises machine codes (SKU, supplier code, serial
// numbers): NFC, upper case, no interior whitespace at all.
func NormalizeCode(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = strings.ToUpper(s)
	return strings.Join(strings.Fields(s), "")
}
