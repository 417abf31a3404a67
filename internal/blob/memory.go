package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data    []byte
	modTime time.Time
}

// MemoryBucket — потокобезопасный in-memory Bucket.
type MemoryBucket struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

// NewMemoryBucket создаёт пустой MemoryBucket.
func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{
		objects: make(map[string]memObject),
		now:     time.Now,
	}
}

func (b *MemoryBucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *MemoryBucket) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = memObject{data: data, modTime: b.now()}
	return int64(len(data)), nil
}

func (b *MemoryBucket) Create(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; ok {
		return 0, fmt.Errorf("%w: %s", ErrExists, key)
	}
	b.objects[key] = memObject{data: data, modTime: b.now()}
	return int64(len(data)), nil
}

func (b *MemoryBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *MemoryBucket) List(ctx context.Context, prefix string) ([]Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Object
	for key, obj := range b.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Object{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Len возвращает число объектов.
func (b *MemoryBucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
