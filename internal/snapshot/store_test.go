package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvmemory "github.com/JakeFAU/fre-lookup/internal/kv/memory"
	"github.com/JakeFAU/fre-lookup/internal/lookup"
	"github.com/JakeFAU/fre-lookup/internal/storage/memory"
)

func sampleSummary() lookup.QuerySummary {
	return lookup.QuerySummary{
		Identifier: "12345678000199",
		Year:       2024,
		Entries: []lookup.EntryResult{
			{
				Name:      "fre_cia_aberta_2024.csv",
				Rows:      [][]string{{"12.345.678/0001-99", "ACME SA"}},
				Headers:   []string{"CNPJ_CIA", "Nome_Empresarial"},
				Delimiter: ";",
			},
			{
				Name:      "fre_cia_aberta_auditor_2024.csv",
				Rows:      [][]string{},
				Headers:   []string{},
				Delimiter: ",",
			},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(kvmemory.NewStore(), nil, "", nil)
	summary := sampleSummary()

	require.NoError(t, s.Save(ctx, summary))
	got, ok := s.Load(ctx, "12.345.678/0001-99", 2024)
	require.True(t, ok)
	assert.Equal(t, summary, got)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(kvmemory.NewStore(), nil, "", nil)
	first := sampleSummary()
	second := sampleSummary()
	second.Entries = second.Entries[:1]

	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))
	got, ok := s.Load(ctx, first.Identifier, first.Year)
	require.True(t, ok)
	assert.Len(t, got.Entries, 1)
}

func TestKeyLayout(t *testing.T) {
	t.Parallel()
	s := New(kvmemory.NewStore(), nil, "", nil)
	assert.Equal(t, "DiligenceGo:report:12345678000199:2024", s.Key("12.345.678/0001-99", 2024))

	custom := New(kvmemory.NewStore(), nil, "tenant", nil)
	assert.Equal(t, "tenant:report:1:2023", custom.Key("1", 2023))
}

func TestLoadReportsAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := kvmemory.NewStore()
	s := New(kv, nil, "", nil)

	_, ok := s.Load(ctx, "12345678000199", 2024)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, s.Key("12345678000199", 2024), "{not json"))
	_, ok = s.Load(ctx, "12345678000199", 2024)
	assert.False(t, ok)

	broken := New(failingKV{err: errors.New("disk gone")}, nil, "", nil)
	_, ok = broken.Load(ctx, "12345678000199", 2024)
	assert.False(t, ok)
}

func TestClearAllRemovesSnapshotsAccountAndBlobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := kvmemory.NewStore()
	blobs := memory.NewBlobStore()
	s := New(kv, blobs, "", nil)

	require.NoError(t, s.Save(ctx, sampleSummary()))
	other := sampleSummary()
	other.Year = 2023
	require.NoError(t, s.Save(ctx, other))
	for _, k := range AccountKeys {
		require.NoError(t, kv.Set(ctx, k, "x"))
	}
	require.NoError(t, kv.Set(ctx, "unrelated", "keep"))
	require.NoError(t, blobs.Put(ctx, "https://example/a.zip?day=2025-01-01", []byte("PK")))

	require.NoError(t, s.ClearAll(ctx))

	remaining, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"unrelated"}, remaining)
	blobKeys, err := blobs.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, blobKeys)
}

func TestClearAllReportsFailures(t *testing.T) {
	t.Parallel()
	s := New(failingKV{err: errors.New("locked")}, nil, "", nil)
	err := s.ClearAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
}

type failingKV struct {
	err error
}

func (f failingKV) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingKV) Set(context.Context, string, string) error          { return f.err }
func (f failingKV) Delete(context.Context, string) error               { return f.err }
func (f failingKV) Keys(context.Context, string) ([]string, error)     { return nil, f.err }
