// Package cnpj normalizes Brazilian legal-entity taxpayer identifiers.
package cnpj

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

// Length is the digit count of a normalized CNPJ.
const Length = 14

// Normalize keeps only the ASCII digits of input, in order.
func Normalize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		if c := input[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Validate normalizes input and enforces the 14-digit rule.
func Validate(input string) (string, error) {
	digits := Normalize(input)
	if len(digits) != Length {
		return "", &lookup.ValidationError{
			Field:  "cnpj",
			Reason: fmt.Sprintf("expected %d digits, got %d", Length, len(digits)),
		}
	}
	return digits, nil
}

// Format renders a normalized CNPJ as 00.000.000/0000-00. Other inputs are returned unchanged.
func Format(digits string) string {
	if len(digits) != Length || Normalize(digits) != digits {
		return digits
	}
	return digits[0:2] + "." + digits[2:5] + "." + digits[5:8] + "/" + digits[8:12] + "-" + digits[12:14]
}
