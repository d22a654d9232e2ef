package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/JakeFAU/fre-lookup/internal/cnpj"
)

const target = "12345678000199"

type entry struct {
	name    string
	body    []byte
	corrupt bool
}

func buildArchive(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		if e.corrupt {
			w, err := zw.CreateRaw(&zip.FileHeader{
				Name:               e.name,
				Method:             zip.Store,
				CRC32:              0xdeadbeef,
				CompressedSize64:   uint64(len(e.body)),
				UncompressedSize64: uint64(len(e.body)),
			})
			require.NoError(t, err)
			_, err = w.Write(e.body)
			require.NoError(t, err)
			continue
		}
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func latin1(t *testing.T, s string) []byte {
	t.Helper()
	out, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return out
}

func TestExtractEndToEnd(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t, entry{
		name: "fre_cia_aberta_2024.csv",
		body: []byte("CNPJ_CIA;Nome_Empresarial\n12.345.678/0001-99;ACME SA\n98.765.432/0001-10;OUTRA SA\n"),
	})

	got, err := NewEngine(nil).Extract(context.Background(), archive, target)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fre_cia_aberta_2024.csv", got[0].Name)
	assert.Equal(t, [][]string{{"12.345.678/0001-99", "ACME SA"}}, got[0].Rows)
	assert.Equal(t, []string{"CNPJ_CIA", "Nome_Empresarial"}, got[0].Headers)
	assert.Equal(t, ";", got[0].Delimiter)
}

func TestExtractKeepsEmptyEntriesAndSkipsNonCSV(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t,
		entry{name: "leiame.txt", body: []byte(target)},
		entry{name: "a.CSV", body: []byte("CNPJ_Companhia,Valor\n11.111.111/0001-11,10\n")},
		entry{name: "b.csv", body: []byte("\n\n")},
	)

	got, err := NewEngine(nil).Extract(context.Background(), archive, target)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.CSV", got[0].Name)
	assert.Empty(t, got[0].Rows)
	assert.Equal(t, []string{"CNPJ_Companhia", "Valor"}, got[0].Headers)
	assert.Equal(t, ",", got[0].Delimiter)

	assert.Equal(t, "b.csv", got[1].Name)
	assert.Empty(t, got[1].Headers)
	assert.Equal(t, ";", got[1].Delimiter)
}

func TestExtractIsolatesFailingEntry(t *testing.T) {
	t.Parallel()
	good := []byte("CNPJ_CIA;X\n" + target + ";1\n")
	archive := buildArchive(t,
		entry{name: "broken.csv", body: good, corrupt: true},
		entry{name: "good.csv", body: good},
	)

	got, err := NewEngine(nil).Extract(context.Background(), archive, target)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "good.csv", got[0].Name)
	assert.Len(t, got[0].Rows, 1)
}

func TestExtractRejectsNonArchive(t *testing.T) {
	t.Parallel()
	_, err := NewEngine(nil).Extract(context.Background(), []byte("<html>offline</html>"), target)
	require.Error(t, err)
}

func TestExtractStopsWhenContextDone(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t, entry{name: "a.csv", body: []byte("CNPJ;X\n")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(nil).Extract(ctx, archive, target)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEntriesYieldsBetweenEntries(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t,
		entry{name: "a.csv", body: []byte("CNPJ;X\n")},
		entry{name: "b.csv", body: []byte("CNPJ;X\n")},
		entry{name: "c.csv", body: []byte("CNPJ;X\n")},
	)
	e := NewEngine(nil)
	pauses := 0
	e.pause = func() { pauses++ }

	seq, err := e.Entries(archive, target)
	require.NoError(t, err)
	var names []string
	for res := range seq {
		names = append(names, res.Name)
	}
	assert.Equal(t, []string{"a.csv", "b.csv", "c.csv"}, names)
	assert.Equal(t, 2, pauses)
}

func TestEntriesStopsWhenConsumerBreaks(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t,
		entry{name: "a.csv", body: []byte("CNPJ;X\n")},
		entry{name: "b.csv", body: []byte("CNPJ;X\n")},
	)
	seq, err := NewEngine(nil).Entries(archive, target)
	require.NoError(t, err)
	count := 0
	for range seq {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestFilterTextSoundness(t *testing.T) {
	t.Parallel()
	text := "DT_REFER;CNPJ_CIA;CNPJ_Auditor;Nome\n" +
		"2024-01-01;00.000.000/0001-00;" + target + ";Via auditor\n" +
		"2024-01-01;" + target + ";11.111.111/0001-11;Direto\n" +
		"\n" +
		"2024-01-01;22.222.222/0001-22;33.333.333/0001-33;Outro\n" +
		"2024-01-01\n"

	res, err := FilterText("x.csv", text, target)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	for _, row := range res.Rows {
		found := false
		for _, cell := range row {
			if cnpj.Normalize(cell) == target {
				found = true
			}
		}
		assert.True(t, found, "row %v has no matching cell", row)
	}
	assert.Equal(t, "Direto", res.Rows[1][3])
}

func TestFilterTextScansEveryCellWithoutIdentifierColumn(t *testing.T) {
	t.Parallel()
	text := "Empresa;Documento Fiscal\nACME;" + target + "\nOUTRA;1\n"

	res, err := FilterText("x.csv", text, target)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"ACME", target}}, res.Rows)
}

func TestFilterTextIgnoresIdentifierOutsideDetectedColumns(t *testing.T) {
	t.Parallel()
	text := "CNPJ_CIA;Observacao\n11.111.111/0001-11;" + target + "\n"

	res, err := FilterText("x.csv", text, target)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestFilterTextEmptyIdentifierMatchesNothing(t *testing.T) {
	t.Parallel()
	res, err := FilterText("x.csv", "CNPJ;Nome\n;sem cnpj\n", "")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestFilterTextHandlesQuotedCells(t *testing.T) {
	t.Parallel()
	text := "\"CNPJ_CIA\";\"Nome\"\n\"" + target + "\";\"ACME; Filial \"\"Sul\"\"\"\n"

	res, err := FilterText("x.csv", text, target)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, `ACME; Filial "Sul"`, res.Rows[0][1])
	assert.Equal(t, []int{0}, IdentifierColumns(res.Headers))
}

func TestExtractDecodesLatin1Entries(t *testing.T) {
	t.Parallel()
	body := latin1(t, "CNPJ_CIA;Denominação Social\n"+target+";Companhia de Água e Saneamento\n")
	archive := buildArchive(t, entry{name: "a.csv", body: body})

	got, err := NewEngine(nil).Extract(context.Background(), archive, target)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Denominação Social", got[0].Headers[1])
	assert.Equal(t, "Companhia de Água e Saneamento", got[0].Rows[0][1])
}
