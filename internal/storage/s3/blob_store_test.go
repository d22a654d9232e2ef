package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, n := range names {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(n)})
	}
	return out, nil
}

func TestNewWithClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithClient(nil, Config{Bucket: "b"})
	assert.Error(t, err)
	_, err = NewWithClient(newFakeS3(), Config{})
	assert.Error(t, err)
}

func TestBlobStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeS3()
	fake.objects["unrelated/object"] = []byte("keep")
	store, err := NewWithClient(fake, Config{Bucket: "cache", Prefix: "fre"})
	require.NoError(t, err)

	key := "https://dados.example/fre_cia_aberta_2024.zip?day=2024-05-01"
	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, key, []byte("archive")))
	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("archive"), got)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	require.NoError(t, store.Purge(ctx))
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Contains(t, fake.objects, "unrelated/object")
}

func TestBlobStorePutError(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	store, err := NewWithClient(fake, Config{Bucket: "cache"})
	require.NoError(t, err)

	err = store.Put(context.Background(), "k", []byte("x"))
	require.ErrorContains(t, err, "access denied")
	assert.Error(t, store.Put(context.Background(), "", []byte("x")))
}
