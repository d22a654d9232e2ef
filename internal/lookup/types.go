// Package lookup defines the core types shared by the FRE lookup subsystems.
package lookup

import (
	"fmt"
	"strings"
)

// Dataset identifies which remote archive family a query targets.
type Dataset string

// Known datasets. Only DatasetFRE has a resolvable source.
const (
	DatasetFRE Dataset = "FRE"
	DatasetPAS Dataset = "PAS"
)

// ParseDataset accepts a dataset code in any case.
func ParseDataset(raw string) (Dataset, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(DatasetFRE):
		return DatasetFRE, nil
	case string(DatasetPAS):
		return DatasetPAS, nil
	default:
		return "", fmt.Errorf("unknown dataset %q", raw)
	}
}

// Lower returns the lowercase code used in relay paths.
func (d Dataset) Lower() string {
	return strings.ToLower(string(d))
}

// EntryResult holds the matching rows of one embedded text file.
type EntryResult struct {
	Name      string     `json:"file"`
	Rows      [][]string `json:"rows"`
	Headers   []string   `json:"headers"`
	Delimiter string     `json:"delimiter"`
}

// QuerySummary is the unit of persistence and the unit returned to callers.
type QuerySummary struct {
	Identifier string        `json:"cnpj"`
	Year       int           `json:"year"`
	Entries    []EntryResult `json:"files"`
}

// MatchedRows counts the rows kept across every entry.
func (s QuerySummary) MatchedRows() int {
	total := 0
	for _, e := range s.Entries {
		total += len(e.Rows)
	}
	return total
}

// Archive is the resolved archive payload plus where it came from.
type Archive struct {
	URL    string
	Year   int
	Source Source
	Data   []byte
}

// Source records which path produced an archive.
type Source string

// Archive sources.
const (
	SourceCache      Source = "cache"
	SourceStaleCache Source = "stale_cache"
	SourceNative     Source = "native"
	SourceRelay      Source = "relay"
	SourceDirect     Source = "direct"
	SourceUpload     Source = "upload"
)

// QueryEvent is published after every completed query.
type QueryEvent struct {
	Identifier  string `json:"cnpj"`
	Year        int    `json:"year"`
	Entries     int    `json:"entries"`
	MatchedRows int    `json:"matched_rows"`
	Source      Source `json:"source"`
	ArchiveHash string `json:"archive_sha256,omitempty"`
}
