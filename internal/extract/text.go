package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DelimiterSample is how many leading characters DetectDelimiter inspects.
const DelimiterSample = 4000

// DefaultDelimiter is chosen when the sample holds no candidate at all.
const DefaultDelimiter = ';'

// candidates are checked in preference order; ties keep the earlier one.
var candidates = []rune{';', ',', '\t'}

// identifierAliases are exact header names that carry a CNPJ without saying so.
var identifierAliases = map[string]bool{
	"documento":     true,
	"nr_documento":  true,
	"num_documento": true,
	"identificador": true,
}

// Decode converts ISO-8859-1 bytes to a UTF-8 string.
func Decode(raw []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		// Unreachable with the current charmap decoder; keeps Decode total.
		return decodeLatin1(raw)
	}
	return string(out)
}

// decodeLatin1 maps every byte to the code point of the same value, which is
// exactly what ISO-8859-1 specifies.
func decodeLatin1(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		b.WriteRune(rune(c))
	}
	return b.String()
}

// DetectDelimiter picks the most frequent of ';', ',' and '\t' within the
// first DelimiterSample characters of text.
func DetectDelimiter(text string) rune {
	counts := make(map[rune]int, len(candidates))
	n := 0
	for _, r := range text {
		if n == DelimiterSample {
			break
		}
		n++
		counts[r]++
	}
	best, bestCount := DefaultDelimiter, 0
	for _, c := range candidates {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}

// Headers splits the first non-blank line of text on delim.
func Headers(text string, delim rune) []string {
	for line := range strings.Lines(text) {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		return strings.Split(line, string(delim))
	}
	return []string{}
}

// NormalizeHeader strips accents, folds case and collapses whitespace.
func NormalizeHeader(h string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, h)
	if err != nil {
		folded = h
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// IdentifierColumns returns the indices of headers that look like a CNPJ
// column.
func IdentifierColumns(headers []string) []int {
	var cols []int
	for i, h := range headers {
		n := NormalizeHeader(strings.Trim(h, `"`))
		if strings.Contains(n, "cnpj") || identifierAliases[n] {
			cols = append(cols, i)
		}
	}
	return cols
}
