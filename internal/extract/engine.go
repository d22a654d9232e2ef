// Package extract walks an FRE archive and keeps the CSV rows that belong to
// one CNPJ.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fre-lookup/internal/cnpj"
	"github.com/JakeFAU/fre-lookup/internal/lookup"
	"github.com/JakeFAU/fre-lookup/internal/metrics"
)

// EntrySuffix selects the archive entries that are processed.
const EntrySuffix = ".csv"

// Entry outcomes recorded against fre_entries_extracted_total.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// Engine filters archive entries by identifier.
type Engine struct {
	logger *zap.Logger
	pause  func()
}

// NewEngine returns an Engine. A nil logger discards entry failures.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger, pause: runtime.Gosched}
}

// Entries opens archive and returns a lazy sequence with one EntryResult per
// readable CSV entry, in archive order. Entries that fail to decode or parse
// are logged and skipped. The sequence yields the processor between entries.
func (e *Engine) Entries(archive []byte, identifier string) (iter.Seq[lookup.EntryResult], error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return func(yield func(lookup.EntryResult) bool) {
		first := true
		for _, f := range zr.File {
			if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), EntrySuffix) {
				continue
			}
			if !first {
				e.pause()
			}
			first = false

			res, err := e.processEntry(f, identifier)
			if err != nil {
				metrics.ObserveEntry(outcomeFailed)
				e.logger.Warn("entry skipped", zap.String("entry", f.Name), zap.Error(err))
				continue
			}
			metrics.ObserveEntry(outcomeOK)
			metrics.ObserveRowsMatched(len(res.Rows))
			if !yield(res) {
				return
			}
		}
	}, nil
}

// Extract drains Entries, stopping early when ctx is done.
func (e *Engine) Extract(ctx context.Context, archive []byte, identifier string) ([]lookup.EntryResult, error) {
	seq, err := e.Entries(archive, identifier)
	if err != nil {
		return nil, err
	}
	results := []lookup.EntryResult{}
	for res := range seq {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract canceled: %w", err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) processEntry(f *zip.File, identifier string) (lookup.EntryResult, error) {
	rc, err := f.Open()
	if err != nil {
		return lookup.EntryResult{}, fmt.Errorf("open entry: %w", err)
	}
	raw, err := io.ReadAll(rc)
	closeErr := rc.Close()
	if err != nil {
		return lookup.EntryResult{}, fmt.Errorf("read entry: %w", err)
	}
	if closeErr != nil {
		return lookup.EntryResult{}, fmt.Errorf("close entry: %w", closeErr)
	}
	return FilterText(f.Name, Decode(raw), identifier)
}

// FilterText parses one decoded entry and keeps the rows matching identifier.
func FilterText(name, text, identifier string) (lookup.EntryResult, error) {
	delim := DetectDelimiter(text)
	headers := Headers(text, delim)
	records, err := parse(text, delim)
	if err != nil {
		return lookup.EntryResult{}, err
	}
	cols := IdentifierColumns(headers)
	rows := [][]string{}
	for _, rec := range records {
		if matches(rec, cols, identifier) {
			rows = append(rows, rec)
		}
	}
	return lookup.EntryResult{
		Name:      name,
		Rows:      rows,
		Headers:   headers,
		Delimiter: string(delim),
	}, nil
}

func parse(text string, delim rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		out = append(out, rec)
	}
}

func blank(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// matches reports whether any identifier column, or any cell when no column
// was recognised, normalizes to identifier.
func matches(rec []string, cols []int, identifier string) bool {
	if identifier == "" {
		return false
	}
	if len(cols) == 0 {
		for _, cell := range rec {
			if cnpj.Normalize(cell) == identifier {
				return true
			}
		}
		return false
	}
	for _, c := range cols {
		if c < len(rec) && cnpj.Normalize(rec[c]) == identifier {
			return true
		}
	}
	return false
}
