package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

func TestResolveFRE(t *testing.T) {
	t.Parallel()

	loc := NewLocator(Config{})
	got, err := loc.Resolve(lookup.DatasetFRE, 2024)
	require.NoError(t, err)
	assert.Equal(t, "https://dados.cvm.gov.br/dados/CIA_ABERTA/DOC/FRE/DADOS/fre_cia_aberta_2024.zip", got)
}

func TestResolvePASIsUnavailable(t *testing.T) {
	t.Parallel()

	loc := NewLocator(Config{})
	_, err := loc.Resolve(lookup.DatasetPAS, 2024)
	require.ErrorIs(t, err, lookup.ErrDatasetUnavailable)
	assert.NotErrorIs(t, err, lookup.ErrOffline)

	_, err = loc.RelayURL(lookup.DatasetPAS, 2024)
	require.ErrorIs(t, err, lookup.ErrDatasetUnavailable)
}

func TestRelayURL(t *testing.T) {
	t.Parallel()

	loc := NewLocator(Config{
		Templates: map[lookup.Dataset]string{lookup.DatasetFRE: "https://mirror.test/fre_{year}.zip"},
		RelayBase: "https://app.test/",
	})
	got, err := loc.RelayURL(lookup.DatasetFRE, 2023)
	require.NoError(t, err)
	assert.Equal(t, "https://app.test/api/fre/2023", got)

	direct, err := loc.Resolve(lookup.DatasetFRE, 2023)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.test/fre_2023.zip", direct)
}

func TestParseYear(t *testing.T) {
	t.Parallel()

	year, err := ParseYear("2024")
	require.NoError(t, err)
	assert.Equal(t, 2024, year)

	for _, raw := range []string{"", "abc", "1999", "10000", "-2024"} {
		_, err := ParseYear(raw)
		assert.Error(t, err, "year %q", raw)
	}
}
