package native

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

var zipBytes = []byte("PK\x03\x04\x14\x00binary\xff\xfe")

func TestGetBinaryPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(zipBytes)
	}))
	defer srv.Close()

	tr := New(Config{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second})
	resp, err := tr.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, zipBytes, resp.Body)
	assert.Equal(t, lookup.SourceNative, tr.Name())
}

func TestGetBase64Payload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString(zipBytes) + "\n"))
	}))
	defer srv.Close()

	resp, err := New(Config{}).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, zipBytes, resp.Body)
}

func TestGetNonSuccessKeepsStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := New(Config{}).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetUndecodableTextPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := New(Config{}).Get(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestGetReadTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	tr := New(Config{ConnectTimeout: 100 * time.Millisecond, ReadTimeout: 100 * time.Millisecond})
	_, err := tr.Get(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestGetSlowSteadyBodyOutlivesTimeouts(t *testing.T) {
	t.Parallel()

	chunk := []byte("PK\x03\x04")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			if i > 0 {
				select {
				case <-time.After(60 * time.Millisecond):
				case <-r.Context().Done():
					return
				}
			}
			_, _ = w.Write(chunk)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	tr := New(Config{ConnectTimeout: 100 * time.Millisecond, ReadTimeout: 200 * time.Millisecond})
	start := time.Now()
	resp, err := tr.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Greater(t, time.Since(start), 300*time.Millisecond, "download spans more than connect+read")
	assert.Len(t, resp.Body, 10*len(chunk))
}

func TestGetStalledBodyTimesOut(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("PK\x03\x04"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := New(Config{ConnectTimeout: 100 * time.Millisecond, ReadTimeout: 150 * time.Millisecond})
	_, err := tr.Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrReadTimeout)
}

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	got, err := DecodePayload("application/octet-stream", zipBytes)
	require.NoError(t, err)
	assert.Equal(t, zipBytes, got)

	got, err = DecodePayload("", []byte(base64.StdEncoding.EncodeToString([]byte("PK\x05\x06"))))
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x05\x06"), got)

	raw := []byte{0x00, 0x01, 0xff}
	got, err = DecodePayload("application/octet-stream", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodePayload("application/json", []byte(`{"error":"x"}`))
	assert.Error(t, err)
}
