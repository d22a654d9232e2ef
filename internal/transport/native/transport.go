// Package native implements the in-process HTTP strategy used by native runtimes.
package native

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
	"github.com/JakeFAU/fre-lookup/internal/transport"
)

// Default timeouts for the native path.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 120 * time.Second
)

// ErrReadTimeout reports a response that stopped delivering bytes for longer
// than the read timeout.
var ErrReadTimeout = errors.New("native read timeout")

// Config controls the native client.
type Config struct {
	UserAgent string
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers and every gap between
	// body reads. A slow but steady download is never cut off.
	ReadTimeout time.Duration
}

// Transport issues requests with an in-process http.Client.
type Transport struct {
	client      *http.Client
	userAgent   string
	readTimeout time.Duration
}

var _ transport.Strategy = (*Transport)(nil)

// New builds a Transport with explicit connect and read timeouts.
func New(cfg Config) *Transport {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	read := cfg.ReadTimeout
	if read <= 0 {
		read = DefaultReadTimeout
	}
	rt := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Transport{
		client:      &http.Client{Transport: rt},
		userAgent:   cfg.UserAgent,
		readTimeout: read,
	}
}

// Name identifies the native strategy.
func (t *Transport) Name() lookup.Source {
	return lookup.SourceNative
}

// Get downloads url and decodes the payload from raw binary or base64 text.
func (t *Transport) Get(ctx context.Context, url string) (transport.Response, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return transport.Response{}, fmt.Errorf("create request: %w", err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return transport.Response{}, fmt.Errorf("native request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var stalled atomic.Bool
	timer := time.AfterFunc(t.readTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer timer.Stop()

	raw, err := io.ReadAll(&idleReader{r: resp.Body, timer: timer, timeout: t.readTimeout})
	if err != nil {
		if stalled.Load() {
			err = fmt.Errorf("%w: no data for %s", ErrReadTimeout, t.readTimeout)
		}
		return transport.Response{}, fmt.Errorf("read native response: %w", err)
	}
	out := transport.Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
	}
	if out.StatusCode < 200 || out.StatusCode >= 300 {
		return out, nil
	}
	body, err := DecodePayload(resp.Header.Get("Content-Type"), raw)
	if err != nil {
		return transport.Response{}, err
	}
	out.Body = body
	return out, nil
}

// idleReader pushes the read deadline forward whenever bytes arrive.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

// DecodePayload returns raw ZIP bytes untouched and base64-decodes textual payloads.
func DecodePayload(contentType string, body []byte) ([]byte, error) {
	if bytes.HasPrefix(body, []byte("PK")) {
		return body, nil
	}
	trimmed := bytes.TrimSpace(body)
	if isTextual(contentType) || looksBase64(trimmed) {
		decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		return decoded, nil
	}
	return body, nil
}

func isTextual(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") || mediaType == "application/json"
}

func looksBase64(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '\r', c == '\n':
		default:
			return false
		}
	}
	return true
}
