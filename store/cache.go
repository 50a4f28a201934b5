package store

import (
	"context"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore keeps recently read metadata records in memory. Records are
// never updated once written, so a cached record never goes stale. Misses are
// not cached because the record may still be on its way in.
type CachedStore struct {
	next  Store
	cache *lru.Cache[string, FileMetadata]
}

func NewCachedStore(next Store, size int) (*CachedStore, error) {
	cache, err := lru.New[string, FileMetadata](size)
	if err != nil {
		return nil, fmt.Errorf("creating info cache: %w", err)
	}
	return &CachedStore{
		next:  next,
		cache: cache,
	}, nil
}

func (s *CachedStore) Put(ctx context.Context, f FileInput) (string, error) {
	return s.next.Put(ctx, f)
}

func (s *CachedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.next.Get(ctx, key)
}

func (s *CachedStore) Info(ctx context.Context, key string) (*FileMetadata, error) {
	if fm, ok := s.cache.Get(key); ok {
		return &fm, nil
	}
	fm, err := s.next.Info(ctx, key)
	if err != nil || fm == nil {
		return fm, err
	}
	s.cache.Add(key, *fm)
	return fm, nil
}
