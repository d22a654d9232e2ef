// Package export renders query summaries as downloadable CSV files.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

// ContentType is the media type of WriteCSV output.
const ContentType = "text/csv; charset=iso-8859-1"

const header = "arquivo;colunas"

// FileName is the suggested download name for summary.
func FileName(summary lookup.QuerySummary) string {
	return fmt.Sprintf("DiligenceGo_%s_%d.csv", summary.Identifier, summary.Year)
}

// WriteCSV writes one line per matched row, prefixed by the entry name, with
// every cell quoted. Output is ISO-8859-1; characters outside it become '?'.
func WriteCSV(w io.Writer, summary lookup.QuerySummary) error {
	enc := transform.NewWriter(w, transform.Chain(runes.Map(latin1OrQuestion), charmap.ISO8859_1.NewEncoder()))
	bw := bufio.NewWriter(enc)
	if _, err := bw.WriteString(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, entry := range summary.Entries {
		for _, row := range entry.Rows {
			if _, err := bw.WriteString("\n" + line(entry.Name, row)); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	return nil
}

func latin1OrQuestion(r rune) rune {
	if _, ok := charmap.ISO8859_1.EncodeRune(r); !ok {
		return '?'
	}
	return r
}

func line(name string, row []string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, cell := range row {
		b.WriteString(`;"`)
		b.WriteString(strings.ReplaceAll(cell, `"`, `""`))
		b.WriteByte('"')
	}
	return b.String()
}
