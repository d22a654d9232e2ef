// Package transport defines how archive bytes travel from a URL to the fetcher.
package transport

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

// Response is the payload of a completed HTTP exchange, successful or not.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Strategy fetches a URL. A non-2xx answer is returned as a Response with a nil error;
// errors are reserved for exchanges that produced no usable response.
type Strategy interface {
	Name() lookup.Source
	Get(ctx context.Context, url string) (Response, error)
}

// Mode is the configured runtime flavor.
type Mode string

// Runtime modes.
const (
	ModeNative   Mode = "native"
	ModeHosted   Mode = "hosted"
	ModePackaged Mode = "packaged"
)

// ExecutionContext decides which strategies a fetch may use. It is computed once and
// passed into the fetcher rather than sniffed at each call site.
type ExecutionContext struct {
	Native   bool
	Packaged bool
	Origin   string
}

// UseRelay reports whether the same-origin relay should be tried first.
func (c ExecutionContext) UseRelay() bool {
	return !c.Native && !c.Packaged
}

// String is used in log fields.
func (c ExecutionContext) String() string {
	switch {
	case c.Native:
		return string(ModeNative)
	case c.Packaged:
		return string(ModePackaged)
	default:
		return string(ModeHosted)
	}
}

var packagedSchemes = map[string]bool{
	"file":      true,
	"capacitor": true,
	"app":       true,
	"ionic":     true,
}

// DetectContext derives the execution context from the configured mode and the origin the
// client is served from. A hosted origin on a file-style scheme or a loopback host is treated
// as packaged.
func DetectContext(mode Mode, origin string) ExecutionContext {
	ctx := ExecutionContext{Origin: origin}
	switch mode {
	case ModeNative:
		ctx.Native = true
		return ctx
	case ModePackaged:
		ctx.Packaged = true
		return ctx
	}
	ctx.Packaged = isPackagedOrigin(origin)
	return ctx
}

func isPackagedOrigin(origin string) bool {
	if strings.TrimSpace(origin) == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if packagedSchemes[strings.ToLower(u.Scheme)] {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
