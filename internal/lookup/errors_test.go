package lookup

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineErrorMatchesSentinelAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("fetch: %w", &OfflineError{URL: "https://example.com/a.zip", Status: 503, Err: cause})

	require.ErrorIs(t, err, ErrOffline)
	require.ErrorIs(t, err, cause)

	var offline *OfflineError
	require.ErrorAs(t, err, &offline)
	assert.Equal(t, 503, offline.Status)
	assert.Contains(t, err.Error(), "status 503")
}

func TestUnavailableAndValidationAreDistinct(t *testing.T) {
	t.Parallel()

	unavailable := &UnavailableError{Dataset: DatasetPAS}
	assert.ErrorIs(t, unavailable, ErrDatasetUnavailable)
	assert.NotErrorIs(t, unavailable, ErrOffline)

	invalid := &ValidationError{Field: "cnpj", Reason: "expected 14 digits"}
	assert.ErrorIs(t, invalid, ErrInvalidIdentifier)
	assert.NotErrorIs(t, invalid, ErrDatasetUnavailable)
}

func TestParseDataset(t *testing.T) {
	t.Parallel()

	ds, err := ParseDataset(" fre ")
	require.NoError(t, err)
	assert.Equal(t, DatasetFRE, ds)
	assert.Equal(t, "fre", ds.Lower())

	_, err = ParseDataset("dfp")
	assert.Error(t, err)
}

func TestQuerySummaryMatchedRows(t *testing.T) {
	t.Parallel()

	s := QuerySummary{Entries: []EntryResult{
		{Rows: [][]string{{"a"}, {"b"}}},
		{Rows: nil},
		{Rows: [][]string{{"c"}}},
	}}
	assert.Equal(t, 3, s.MatchedRows())
}
