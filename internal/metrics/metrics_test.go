package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, archiveFetchTotal)
	require.NotNil(t, archiveCacheTotal)
	require.NotNil(t, entriesExtractedTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveArchiveFetch(t *testing.T) {
	before := testutil.ToFloat64(archiveBytesTotalFor("relay"))
	ObserveArchiveFetch("relay", OutcomeSuccess, 128)
	ObserveArchiveFetch("relay", OutcomeStatus, 0)

	assert.Equal(t, before+128, testutil.ToFloat64(archiveBytesTotalFor("relay")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(archiveFetchTotal.WithLabelValues("relay", OutcomeStatus)), 1.0)
}

func TestObserveRowsMatchedIgnoresNonPositive(t *testing.T) {
	Init()
	before := testutil.ToFloat64(rowsMatchedTotal)
	ObserveRowsMatched(0)
	ObserveRowsMatched(-3)
	assert.Equal(t, before, testutil.ToFloat64(rowsMatchedTotal))

	ObserveRowsMatched(2)
	assert.Equal(t, before+2, testutil.ToFloat64(rowsMatchedTotal))
}

func TestObserveCacheAndEntry(t *testing.T) {
	Init()
	hits := testutil.ToFloat64(archiveCacheTotal.WithLabelValues(CacheHit))
	ObserveCache(CacheHit)
	assert.Equal(t, hits+1, testutil.ToFloat64(archiveCacheTotal.WithLabelValues(CacheHit)))

	failed := testutil.ToFloat64(entriesExtractedTotal.WithLabelValues("failed"))
	ObserveEntry("failed")
	assert.Equal(t, failed+1, testutil.ToFloat64(entriesExtractedTotal.WithLabelValues("failed")))
}

func archiveBytesTotalFor(path string) prometheus.Counter {
	Init()
	return archiveBytesTotal.WithLabelValues(path)
}
