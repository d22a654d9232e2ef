// Package query coordinates normalization, archive fetching, extraction and
// snapshot persistence for FRE lookups.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/fre-lookup/internal/cnpj"
	"github.com/JakeFAU/fre-lookup/internal/dataset"
	"github.com/JakeFAU/fre-lookup/internal/lookup"
	"github.com/JakeFAU/fre-lookup/internal/telemetry"
)

// DefaultTopic receives a QueryEvent after every completed query.
const DefaultTopic = "fre-queries"

// ArchiveFetcher resolves archive bytes for a dataset year.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, ds lookup.Dataset, year int) (lookup.Archive, error)
}

// Extractor filters archive entries by identifier.
type Extractor interface {
	Extract(ctx context.Context, archive []byte, identifier string) ([]lookup.EntryResult, error)
}

// SnapshotStore persists summaries.
type SnapshotStore interface {
	Save(ctx context.Context, summary lookup.QuerySummary) error
	Load(ctx context.Context, identifier string, year int) (lookup.QuerySummary, bool)
	ClearAll(ctx context.Context) error
}

// Options bundles the Service's collaborators. Publisher and Hasher are
// optional.
type Options struct {
	Fetcher   ArchiveFetcher
	Extractor Extractor
	Snapshots SnapshotStore
	Locator   *dataset.Locator
	Publisher lookup.Publisher
	Hasher    lookup.Hasher
	Clock     lookup.Clock
	Topic     string
	Logger    *zap.Logger
	Tracer    trace.Tracer
}

// Service is the entry point for presentation layers.
type Service struct {
	fetcher   ArchiveFetcher
	extractor Extractor
	snapshots SnapshotStore
	locator   *dataset.Locator
	publisher lookup.Publisher
	hasher    lookup.Hasher
	clock     lookup.Clock
	topic     string
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New validates opts and returns a Service.
func New(opts Options) (*Service, error) {
	switch {
	case opts.Fetcher == nil:
		return nil, errors.New("query: fetcher is required")
	case opts.Extractor == nil:
		return nil, errors.New("query: extractor is required")
	case opts.Snapshots == nil:
		return nil, errors.New("query: snapshot store is required")
	case opts.Locator == nil:
		return nil, errors.New("query: locator is required")
	case opts.Clock == nil:
		return nil, errors.New("query: clock is required")
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer()
	}
	return &Service{
		fetcher:   opts.Fetcher,
		extractor: opts.Extractor,
		snapshots: opts.Snapshots,
		locator:   opts.Locator,
		publisher: opts.Publisher,
		hasher:    opts.Hasher,
		clock:     opts.Clock,
		topic:     opts.Topic,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}, nil
}

// DefaultYear is the calendar year used when the caller gives none.
func DefaultYear(clock lookup.Clock) int {
	return clock.Now().Year()
}

func (s *Service) year(year int) int {
	if year == 0 {
		return DefaultYear(s.clock)
	}
	return year
}

// QueryByIdentifier downloads the FRE archive for year (0 = current year)
// and returns the rows that belong to the CNPJ in input.
func (s *Service) QueryByIdentifier(ctx context.Context, input string, year int) (summary lookup.QuerySummary, err error) {
	id, err := cnpj.Validate(input)
	if err != nil {
		return lookup.QuerySummary{}, err
	}
	year = s.year(year)
	ctx, span := s.tracer.Start(ctx, "query.by_identifier", trace.WithAttributes(
		attribute.String("cnpj", id),
		attribute.Int("year", year),
	))
	defer func() { endSpan(span, err) }()

	archive, err := s.fetcher.Fetch(ctx, lookup.DatasetFRE, year)
	if err != nil {
		return lookup.QuerySummary{}, err
	}
	span.SetAttributes(attribute.String("source", string(archive.Source)))
	return s.run(ctx, id, year, archive)
}

// QueryFromUploadedArchive runs the extraction over archive without touching
// the network or the blob cache.
func (s *Service) QueryFromUploadedArchive(ctx context.Context, input string, archive []byte, year int) (summary lookup.QuerySummary, err error) {
	id, err := cnpj.Validate(input)
	if err != nil {
		return lookup.QuerySummary{}, err
	}
	year = s.year(year)
	ctx, span := s.tracer.Start(ctx, "query.from_upload", trace.WithAttributes(
		attribute.String("cnpj", id),
		attribute.Int("year", year),
		attribute.Int("bytes", len(archive)),
	))
	defer func() { endSpan(span, err) }()

	return s.run(ctx, id, year, lookup.Archive{Year: year, Source: lookup.SourceUpload, Data: archive})
}

func (s *Service) run(ctx context.Context, id string, year int, archive lookup.Archive) (lookup.QuerySummary, error) {
	start := time.Now()
	entries, err := s.extractor.Extract(ctx, archive.Data, id)
	if err != nil {
		return lookup.QuerySummary{}, fmt.Errorf("extract archive: %w", err)
	}
	// year stays the requested one even when the previous year was served.
	summary := lookup.QuerySummary{Identifier: id, Year: year, Entries: entries}

	if err := s.snapshots.Save(ctx, summary); err != nil {
		s.logger.Warn("snapshot save failed", zap.String("cnpj", id), zap.Int("year", year), zap.Error(err))
	}
	s.publish(ctx, summary, archive)

	s.logger.Info("query completed",
		zap.String("cnpj", id),
		zap.Int("year", year),
		zap.Int("archive_year", archive.Year),
		zap.String("source", string(archive.Source)),
		zap.Int("entries", len(entries)),
		zap.Int("matched_rows", summary.MatchedRows()),
		zap.Duration("duration", time.Since(start)))
	return summary, nil
}

func (s *Service) publish(ctx context.Context, summary lookup.QuerySummary, archive lookup.Archive) {
	if s.publisher == nil {
		return
	}
	event := lookup.QueryEvent{
		Identifier:  summary.Identifier,
		Year:        summary.Year,
		Entries:     len(summary.Entries),
		MatchedRows: summary.MatchedRows(),
		Source:      archive.Source,
	}
	if s.hasher != nil {
		if h, err := s.hasher.Hash(archive.Data); err == nil {
			event.ArchiveHash = h
		}
	}
	if _, err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		s.logger.Warn("query event publish failed", zap.String("topic", s.topic), zap.Error(err))
	}
}

// LoadCachedSummary returns the last stored summary for (input, year).
func (s *Service) LoadCachedSummary(ctx context.Context, input string, year int) (lookup.QuerySummary, bool) {
	return s.snapshots.Load(ctx, cnpj.Normalize(input), s.year(year))
}

// ClearAllLocalState forgets every snapshot, the account entries and the
// archive cache.
func (s *Service) ClearAllLocalState(ctx context.Context) error {
	if err := s.snapshots.ClearAll(ctx); err != nil {
		s.logger.Warn("clear local state incomplete", zap.Error(err))
		return err
	}
	return nil
}

// ArchiveDownloadURL returns the public archive URL for manual download.
func (s *Service) ArchiveDownloadURL(year int) (string, error) {
	return s.locator.Resolve(lookup.DatasetFRE, s.year(year))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
