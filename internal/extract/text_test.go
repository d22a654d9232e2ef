package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeLatin1RoundTrip(t *testing.T) {
	t.Parallel()
	raw := []byte{'A', 0xE7, 0xE3, 'o', ' ', 0xC9, 0xF4, 0xFA}
	assert.Equal(t, "Ação Éôú", Decode(raw))
	assert.Equal(t, Decode(raw), decodeLatin1(raw))
}

func TestDecodeLatin1MatchesCharmapForEveryByte(t *testing.T) {
	t.Parallel()
	raw := make([]byte, 256)
	for i := range raw {
		raw[i] = byte(i)
	}
	want := Decode(raw)
	assert.Equal(t, want, decodeLatin1(raw))
	assert.Len(t, []rune(want), 256)
	for i, r := range []rune(want) {
		assert.Equal(t, rune(i), r, "byte 0x%02X", i)
	}
}

func TestDetectDelimiter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want rune
	}{
		{name: "semicolon majority", text: strings.Repeat(";", 10) + strings.Repeat(",", 3), want: ';'},
		{name: "comma majority", text: "a,b,c;d", want: ','},
		{name: "tab majority", text: "a\tb\tc", want: '\t'},
		{name: "no candidates", text: "abc", want: ';'},
		{name: "empty", text: "", want: ';'},
		{name: "tie prefers semicolon", text: "a;b,c", want: ';'},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, DetectDelimiter(tc.text))
		})
	}
}

func TestDetectDelimiterOnlySamplesPrefix(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", DelimiterSample-2) + ",," + strings.Repeat(";", 50)
	assert.Equal(t, ',', DetectDelimiter(text))
}

func TestHeaders(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"CNPJ_CIA", "Nome"}, Headers("\r\n  \nCNPJ_CIA;Nome\r\nx;y\n", ';'))
	assert.Equal(t, []string{}, Headers("\n\n", ';'))
}

func TestNormalizeHeader(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "cnpj da companhia", NormalizeHeader("  CNPJ   da  Companhía "))
	assert.Equal(t, "razao social", NormalizeHeader("Razão\tSocial"))
}

func TestIdentifierColumns(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []int{0}, IdentifierColumns([]string{"CNPJ_CIA", "Nome", "Data"}))
	assert.Equal(t, []int{1, 2}, IdentifierColumns([]string{"Nome", "Cnpj Auditor", "Documento"}))
	assert.Empty(t, IdentifierColumns([]string{"Nome", "Data"}))
	assert.Empty(t, IdentifierColumns(nil))
}
