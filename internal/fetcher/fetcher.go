// Package fetcher resolves FRE archive bytes through the day-scoped blob cache
// and the transport chain selected by the execution context.
package fetcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fre-lookup/internal/clock/system"
	"github.com/JakeFAU/fre-lookup/internal/dataset"
	"github.com/JakeFAU/fre-lookup/internal/lookup"
	"github.com/JakeFAU/fre-lookup/internal/metrics"
	"github.com/JakeFAU/fre-lookup/internal/transport"
)

// Options bundles the Fetcher's collaborators.
type Options struct {
	Locator *dataset.Locator
	Context transport.ExecutionContext
	// Native is used for every attempt in native contexts and for the
	// unpublished-year retry elsewhere. Optional outside native contexts.
	Native transport.Strategy
	Relay  transport.Strategy
	Direct transport.Strategy
	Cache  lookup.BlobCache
	Clock  lookup.Clock
	Logger *zap.Logger
	// UnpublishedYear is the year whose archive is expected to be missing.
	// Zero means the current UTC year.
	UnpublishedYear int
}

// Fetcher downloads yearly archives with caching and fallbacks.
type Fetcher struct {
	locator         *dataset.Locator
	exec            transport.ExecutionContext
	native          transport.Strategy
	relay           transport.Strategy
	direct          transport.Strategy
	cache           lookup.BlobCache
	clock           lookup.Clock
	logger          *zap.Logger
	unpublishedYear int
}

// New validates opts and returns a Fetcher.
func New(opts Options) (*Fetcher, error) {
	switch {
	case opts.Locator == nil:
		return nil, errors.New("fetcher: locator is required")
	case opts.Cache == nil:
		return nil, errors.New("fetcher: blob cache is required")
	case opts.Clock == nil:
		return nil, errors.New("fetcher: clock is required")
	case opts.Context.Native && opts.Native == nil:
		return nil, errors.New("fetcher: native context requires a native strategy")
	case !opts.Context.Native && opts.Direct == nil:
		return nil, errors.New("fetcher: direct strategy is required")
	case opts.Context.UseRelay() && opts.Relay == nil:
		return nil, errors.New("fetcher: hosted context requires a relay strategy")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		locator:         opts.Locator,
		exec:            opts.Context,
		native:          opts.Native,
		relay:           opts.Relay,
		direct:          opts.Direct,
		cache:           opts.Cache,
		clock:           opts.Clock,
		logger:          logger,
		unpublishedYear: opts.UnpublishedYear,
	}, nil
}

// CacheKey scopes url to the UTC calendar day of now.
func CacheKey(url string, now time.Time) string {
	return url + "?day=" + system.Day(now)
}

// attempt carries the last observable failure of the chain.
type attempt struct {
	status int
	err    error
}

// Fetch returns the archive bytes for (ds, year). The returned error is
// either *lookup.UnavailableError or *lookup.OfflineError.
func (f *Fetcher) Fetch(ctx context.Context, ds lookup.Dataset, year int) (lookup.Archive, error) {
	directURL, err := f.locator.Resolve(ds, year)
	if err != nil {
		return lookup.Archive{}, err
	}
	log := f.logger.With(
		zap.String("dataset", string(ds)),
		zap.Int("year", year),
		zap.String("context", f.exec.String()),
	)

	key := CacheKey(directURL, f.clock.Now())
	if data, ok := f.cacheGet(ctx, key, log); ok {
		metrics.ObserveCache(metrics.CacheHit)
		log.Debug("archive served from today's cache", zap.String("key", key))
		return lookup.Archive{URL: directURL, Year: year, Source: lookup.SourceCache, Data: data}, nil
	}
	fallbackYear, fallback := f.fallbackYear(year)
	if fallback {
		if archive, ok := f.cachedPreviousYear(ctx, ds, fallbackYear, log); ok {
			return archive, nil
		}
	}
	metrics.ObserveCache(metrics.CacheMiss)

	var last attempt
	var archive lookup.Archive
	var ok bool
	if f.exec.Native {
		archive, last, ok = f.try(ctx, f.native, directURL, directURL, year, log)
	} else {
		archive, last, ok = f.fetchBrowser(ctx, ds, year, directURL, log)
	}
	if ok {
		return archive, nil
	}

	if fallback {
		if archive, ok := f.fetchPreviousYear(ctx, ds, fallbackYear, log); ok {
			return archive, nil
		}
	}

	if archive, ok := f.stale(ctx, directURL, year, log); ok {
		return archive, nil
	}
	log.Warn("archive unavailable from every source",
		zap.String("url", directURL),
		zap.Int("status", last.status),
		zap.Error(last.err))
	return lookup.Archive{}, &lookup.OfflineError{URL: directURL, Status: last.status, Err: last.err}
}

func (f *Fetcher) fetchBrowser(
	ctx context.Context,
	ds lookup.Dataset,
	year int,
	directURL string,
	log *zap.Logger,
) (lookup.Archive, attempt, bool) {
	if f.exec.UseRelay() {
		relayURL, err := f.locator.RelayURL(ds, year)
		if err != nil {
			return lookup.Archive{}, attempt{err: err}, false
		}
		if archive, _, ok := f.try(ctx, f.relay, relayURL, directURL, year, log); ok {
			return archive, attempt{}, true
		}
		log.Info("relay failed, retrying direct", zap.String("url", directURL))
	}
	return f.try(ctx, f.direct, directURL, directURL, year, log)
}

// fallbackYear reports the year served in place of an unpublished one.
func (f *Fetcher) fallbackYear(year int) (int, bool) {
	if year != f.unpublished() || year-1 < dataset.MinYear {
		return 0, false
	}
	return year - 1, true
}

// cachedPreviousYear returns today's cached copy of the fallback year.
func (f *Fetcher) cachedPreviousYear(
	ctx context.Context,
	ds lookup.Dataset,
	year int,
	log *zap.Logger,
) (lookup.Archive, bool) {
	url, err := f.locator.Resolve(ds, year)
	if err != nil {
		return lookup.Archive{}, false
	}
	key := CacheKey(url, f.clock.Now())
	data, ok := f.cacheGet(ctx, key, log)
	if !ok {
		return lookup.Archive{}, false
	}
	metrics.ObserveCache(metrics.CacheHit)
	log.Debug("previous year served from today's cache", zap.Int("fallback_year", year), zap.String("key", key))
	return lookup.Archive{URL: url, Year: year, Source: lookup.SourceCache, Data: data}, true
}

func (f *Fetcher) fetchPreviousYear(
	ctx context.Context,
	ds lookup.Dataset,
	year int,
	log *zap.Logger,
) (lookup.Archive, bool) {
	url, err := f.locator.Resolve(ds, year)
	if err != nil {
		return lookup.Archive{}, false
	}
	strategy := f.native
	if strategy == nil {
		strategy = f.direct
	}
	log.Info("requested year not yet published, trying previous year",
		zap.Int("fallback_year", year),
		zap.String("url", url),
		zap.String("path", string(strategy.Name())))
	archive, _, ok := f.try(ctx, strategy, url, url, year, log)
	return archive, ok
}

// try performs one GET against requestURL and caches a successful body under
// today's key for archiveURL. The two differ only for the relay.
func (f *Fetcher) try(
	ctx context.Context,
	strategy transport.Strategy,
	requestURL string,
	archiveURL string,
	year int,
	log *zap.Logger,
) (lookup.Archive, attempt, bool) {
	path := string(strategy.Name())
	resp, err := strategy.Get(ctx, requestURL)
	if err != nil {
		metrics.ObserveArchiveFetch(path, metrics.OutcomeError, 0)
		log.Warn("archive request failed", zap.String("path", path), zap.String("url", requestURL), zap.Error(err))
		return lookup.Archive{}, attempt{err: err}, false
	}
	if !resp.OK() {
		metrics.ObserveArchiveFetch(path, metrics.OutcomeStatus, 0)
		log.Warn("archive request returned non-success status",
			zap.String("path", path),
			zap.String("url", requestURL),
			zap.Int("status", resp.StatusCode))
		return lookup.Archive{}, attempt{status: resp.StatusCode}, false
	}
	if len(resp.Body) == 0 {
		metrics.ObserveArchiveFetch(path, metrics.OutcomeError, 0)
		log.Warn("archive response was empty", zap.String("path", path), zap.String("url", requestURL))
		return lookup.Archive{}, attempt{status: resp.StatusCode, err: errors.New("empty archive body")}, false
	}
	metrics.ObserveArchiveFetch(path, metrics.OutcomeSuccess, len(resp.Body))

	f.cachePut(ctx, CacheKey(archiveURL, f.clock.Now()), resp.Body, log)
	log.Info("archive downloaded",
		zap.String("path", path),
		zap.String("url", requestURL),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration))
	return lookup.Archive{URL: archiveURL, Year: year, Source: strategy.Name(), Data: resp.Body}, attempt{}, true
}

func (f *Fetcher) stale(ctx context.Context, directURL string, year int, log *zap.Logger) (lookup.Archive, bool) {
	keys, err := f.cache.Keys(ctx)
	if err != nil {
		metrics.ObserveCache(metrics.CacheError)
		log.Warn("list cached archives failed", zap.Error(err))
		return lookup.Archive{}, false
	}
	prefix := directURL + "?"
	var latest string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) && k > latest {
			latest = k
		}
	}
	if latest == "" {
		return lookup.Archive{}, false
	}
	data, ok := f.cacheGet(ctx, latest, log)
	if !ok {
		return lookup.Archive{}, false
	}
	metrics.ObserveCache(metrics.CacheStale)
	fields := []zap.Field{zap.String("key", latest)}
	if day, err := system.ParseDay(strings.TrimPrefix(latest, prefix+"day=")); err == nil {
		fields = append(fields, zap.Duration("age", f.clock.Now().Sub(day)))
	}
	log.Info("serving stale cached archive", fields...)
	return lookup.Archive{URL: directURL, Year: year, Source: lookup.SourceStaleCache, Data: data}, true
}

func (f *Fetcher) cacheGet(ctx context.Context, key string, log *zap.Logger) ([]byte, bool) {
	data, ok, err := f.cache.Get(ctx, key)
	if err != nil {
		metrics.ObserveCache(metrics.CacheError)
		log.Warn("blob cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, ok
}

func (f *Fetcher) cachePut(ctx context.Context, key string, data []byte, log *zap.Logger) {
	if err := f.cache.Put(ctx, key, data); err != nil {
		metrics.ObserveCache(metrics.CacheError)
		log.Warn("blob cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (f *Fetcher) unpublished() int {
	if f.unpublishedYear > 0 {
		return f.unpublishedYear
	}
	return f.clock.Now().UTC().Year()
}
