package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSBucket — Bucket поверх Google Cloud Storage.
type GCSBucket struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSBucket создаёт GCSBucket. Credentials — Application Default Credentials.
func NewGCSBucket(ctx context.Context, name string) (*GCSBucket, error) {
	if name == "" {
		return nil, errors.New("gcs bucket is empty")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSBucket{client: client, bucket: client.Bucket(name)}, nil
}

// Close закрывает storage client.
func (b *GCSBucket) Close() error {
	return b.client.Close()
}

func (b *GCSBucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open gcs object %s: %w", key, err)
	}
	return r, nil
}

func (b *GCSBucket) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	return b.write(ctx, b.bucket.Object(key), key, r, contentType)
}

func (b *GCSBucket) Create(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	obj := b.bucket.Object(key).If(storage.Conditions{DoesNotExist: true})
	n, err := b.write(ctx, obj, key, r, contentType)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return 0, fmt.Errorf("%w: %s", ErrExists, key)
	}
	return n, err
}

func (b *GCSBucket) write(ctx context.Context, obj *storage.ObjectHandle, key string, r io.Reader, contentType string) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	n, err := io.Copy(w, r)
	if err != nil {
		// Отмена ctx до Close отменяет загрузку целиком
		cancel()
		_ = w.Close()
		return 0, fmt.Errorf("write gcs object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("finalize gcs object %s: %w", key, err)
	}
	return n, nil
}

func (b *GCSBucket) Delete(ctx context.Context, key string) error {
	err := b.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gcs object %s: %w", key, err)
	}
	return nil
}

func (b *GCSBucket) List(ctx context.Context, prefix string) ([]Object, error) {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})

	var out []Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gcs %s: %w", prefix, err)
		}
		out = append(out, Object{Key: attrs.Name, Size: attrs.Size, ModTime: attrs.Updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
