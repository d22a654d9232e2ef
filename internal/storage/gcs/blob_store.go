// Package gcs provides an archive cache backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix namespaces cache objects inside the bucket.
	Prefix string
}

// BlobStore keeps cached archives as objects named after their escaped cache key.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ lookup.BlobCache = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "archives"
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Get downloads the object for key.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("read object: %w", err)
	}
	return data, true, nil
}

// Put uploads data in a single writer session; GCS only exposes the object once Close succeeds.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	writer := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewWriter(ctx)
	writer.ContentType = "application/zip"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Keys lists cache keys under the configured prefix.
func (s *BlobStore) Keys(ctx context.Context) ([]string, error) {
	names, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		key, err := s.keyFromObject(name)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Purge deletes every object under the prefix.
func (s *BlobStore) Purge(ctx context.Context) error {
	names, err := s.list(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		err := s.client.Bucket(s.bucket).Object(name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete object %s: %w", name, err)
		}
	}
	return nil
}

func (s *BlobStore) list(ctx context.Context) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix + "/"})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (s *BlobStore) objectName(key string) string {
	return s.prefix + "/" + url.QueryEscape(key)
}

func (s *BlobStore) keyFromObject(name string) (string, error) {
	escaped, ok := strings.CutPrefix(name, s.prefix+"/")
	if !ok {
		return "", fmt.Errorf("object %s outside prefix", name)
	}
	key, err := url.QueryUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("unescape object name: %w", err)
	}
	return key, nil
}
