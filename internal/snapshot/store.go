// Package snapshot persists query summaries per (CNPJ, year) and implements
// the wholesale "forget everything" operation.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fre-lookup/internal/cnpj"
	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

// DefaultNamespace prefixes every snapshot key.
const DefaultNamespace = "DiligenceGo"

// AccountKeys are the profile, plan and API-key entries removed by ClearAll.
var AccountKeys = []string{"dg:user", "dg:plan", "dg:apiKey"}

// Store saves summaries into a KeyValueStore.
type Store struct {
	kv        lookup.KeyValueStore
	blobs     lookup.BlobCache
	namespace string
	logger    *zap.Logger
}

// New builds a Store. blobs is purged by ClearAll and may be nil.
func New(kv lookup.KeyValueStore, blobs lookup.BlobCache, namespace string, logger *zap.Logger) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, blobs: blobs, namespace: namespace, logger: logger}
}

// Key returns the storage key for (identifier, year).
func (s *Store) Key(identifier string, year int) string {
	return fmt.Sprintf("%s%s:%d", s.prefix(), cnpj.Normalize(identifier), year)
}

func (s *Store) prefix() string {
	return s.namespace + ":report:"
}

// Save overwrites the snapshot for summary's key.
func (s *Store) Save(ctx context.Context, summary lookup.QuerySummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := s.Key(summary.Identifier, summary.Year)
	if err := s.kv.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("store snapshot %s: %w", key, err)
	}
	return nil
}

// Load returns the stored summary. Missing keys, unreadable stores and
// malformed values all report absent.
func (s *Store) Load(ctx context.Context, identifier string, year int) (lookup.QuerySummary, bool) {
	key := s.Key(identifier, year)
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("snapshot read failed", zap.String("key", key), zap.Error(err))
		return lookup.QuerySummary{}, false
	}
	if !ok {
		return lookup.QuerySummary{}, false
	}
	var summary lookup.QuerySummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		s.logger.Warn("snapshot is malformed", zap.String("key", key), zap.Error(err))
		return lookup.QuerySummary{}, false
	}
	return summary, true
}

// ClearAll removes every snapshot, the account entries and the whole blob
// cache. It keeps going after individual failures and returns them joined.
func (s *Store) ClearAll(ctx context.Context) error {
	var errs []error
	keys, err := s.kv.Keys(ctx, s.prefix())
	if err != nil {
		errs = append(errs, fmt.Errorf("list snapshots: %w", err))
	}
	keys = append(keys, AccountKeys...)
	removed := 0
	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		if strings.HasPrefix(key, s.prefix()) {
			removed++
		}
	}
	if s.blobs != nil {
		if err := s.blobs.Purge(ctx); err != nil {
			errs = append(errs, fmt.Errorf("purge blob cache: %w", err))
		}
	}
	s.logger.Info("local state cleared", zap.Int("snapshots", removed), zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}
