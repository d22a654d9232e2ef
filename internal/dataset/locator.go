// Package dataset resolves remote archive URLs for (dataset, year) pairs.
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

// DefaultFRETemplate is the public CVM location of the yearly FRE archives.
const DefaultFRETemplate = "https://dados.cvm.gov.br/dados/CIA_ABERTA/DOC/FRE/DADOS/fre_cia_aberta_{year}.zip"

// Year bounds accepted by the relay endpoint.
const (
	MinYear = 2000
	MaxYear = 9999
)

const yearPlaceholder = "{year}"

// Config captures URL templates for the locator.
type Config struct {
	// Templates maps a dataset to a URL containing the {year} placeholder.
	Templates map[lookup.Dataset]string
	// RelayBase is the origin serving /api/<dataset>/<year>. Empty means relative paths.
	RelayBase string
}

// Locator builds canonical archive URLs.
type Locator struct {
	templates map[lookup.Dataset]string
	relayBase string
}

// NewLocator builds a Locator. A nil template map falls back to the FRE default.
func NewLocator(cfg Config) *Locator {
	templates := make(map[lookup.Dataset]string, len(cfg.Templates))
	for ds, tpl := range cfg.Templates {
		if strings.TrimSpace(tpl) != "" {
			templates[ds] = tpl
		}
	}
	if cfg.Templates == nil {
		templates[lookup.DatasetFRE] = DefaultFRETemplate
	}
	return &Locator{
		templates: templates,
		relayBase: strings.TrimRight(cfg.RelayBase, "/"),
	}
}

// Resolve returns the direct remote URL. It never touches the network.
func (l *Locator) Resolve(ds lookup.Dataset, year int) (string, error) {
	tpl, ok := l.templates[ds]
	if !ok {
		return "", &lookup.UnavailableError{Dataset: ds}
	}
	return strings.ReplaceAll(tpl, yearPlaceholder, strconv.Itoa(year)), nil
}

// RelayURL returns the same-origin relay URL for the pair.
func (l *Locator) RelayURL(ds lookup.Dataset, year int) (string, error) {
	if _, ok := l.templates[ds]; !ok {
		return "", &lookup.UnavailableError{Dataset: ds}
	}
	return fmt.Sprintf("%s/api/%s/%d", l.relayBase, ds.Lower(), year), nil
}

// ParseYear parses a relay path year and enforces [MinYear, MaxYear].
func ParseYear(raw string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &lookup.ValidationError{Field: "year", Reason: "not an integer"}
	}
	if year < MinYear || year > MaxYear {
		return 0, &lookup.ValidationError{
			Field:  "year",
			Reason: fmt.Sprintf("must be within [%d, %d]", MinYear, MaxYear),
		}
	}
	return year, nil
}
