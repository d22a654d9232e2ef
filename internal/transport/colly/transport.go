// Package collytransport implements the relay and direct strategies using gocolly.
package collytransport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
	"github.com/JakeFAU/fre-lookup/internal/transport"
)

// Config controls collector behavior.
type Config struct {
	// Source labels the strategy (relay or direct) in logs and metrics.
	Source    lookup.Source
	UserAgent string
	// Timeout bounds the whole exchange. Zero leaves standard requests unbounded.
	Timeout time.Duration
}

// Transport implements transport.Strategy using the Colly collector.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

var _ transport.Strategy = (*Transport)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// exchange collects what the callbacks observed for one visit.
type exchange struct {
	resp       transport.Response
	statusSeen bool
	err        error
}

// New builds a Transport. An empty Source defaults to direct.
func New(cfg Config) *Transport {
	if cfg.Source == "" {
		cfg.Source = lookup.SourceDirect
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = 0
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Transport{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Name reports the configured source label.
func (t *Transport) Name() lookup.Source {
	return t.cfg.Source
}

// Get executes a single HTTP GET, following redirects.
func (t *Transport) Get(ctx context.Context, url string) (transport.Response, error) {
	var ex exchange
	collector := t.baseCollector.Clone()
	// Ties the visit's HTTP request to ctx so a canceled caller aborts the download.
	collector.Context = ctx
	t.configureCollectorHooks(collector, time.Now(), &ex)

	if err := t.runCollector(ctx, collector, url, &ex); err != nil {
		return transport.Response{}, err
	}
	if ex.resp.URL == "" {
		ex.resp.URL = url
	}
	return ex.resp, nil
}

func (t *Transport) configureCollectorHooks(hooks collectorHooks, start time.Time, ex *exchange) {
	hooks.OnResponse(func(r *colly.Response) {
		ex.resp = transport.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		ex.statusSeen = true
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			// colly reports non-2xx answers through OnError; keep them as responses.
			ex.resp = transport.Response{
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
			if r.Request != nil && r.Request.URL != nil {
				ex.resp.URL = r.Request.URL.String()
			}
			ex.statusSeen = true
			return
		}
		ex.err = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, url string, ex *exchange) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s fetch canceled: %w", t.cfg.Source, ctx.Err())
	case err := <-done:
		if ex.statusSeen {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s visit failed: %w", t.cfg.Source, err)
		}
		if ex.err != nil {
			return fmt.Errorf("%s response failed: %w", t.cfg.Source, ex.err)
		}
		return fmt.Errorf("%s visit produced no response", t.cfg.Source)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
