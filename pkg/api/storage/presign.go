package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Presigner is implemented by backends that can hand out temporary
// direct-download URLs for run files.
type Presigner interface {
	PresignRunFile(ctx context.Context, runID, filename string) (string, error)
}

// Compile-time interface check.
var _ Presigner = (*s3Store)(nil)

// presignCacheEntry holds a cached presigned URL and its expiration time.
type presignCacheEntry struct {
	url       string
	expiresAt time.Time
}

// presignCache keeps presigned URLs for half their validity so callers
// always receive a URL with time left on it.
type presignCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]presignCacheEntry
}

func newPresignCache(expiry time.Duration) *presignCache {
	return &presignCache{
		ttl:     expiry / 2,
		entries: make(map[string]presignCacheEntry),
	}
}

func (c *presignCache) get(key string, now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		return "", false
	}

	return entry.url, true
}

func (c *presignCache) put(key, url string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}

	c.entries[key] = presignCacheEntry{url: url, expiresAt: now.Add(c.ttl)}
}

// PresignRunFile returns a presigned GET URL for a run file.
func (s *s3Store) PresignRunFile(
	ctx context.Context, runID, filename string,
) (string, error) {
	key := s.key(runID, filename)
	now := time.Now()

	if url, ok := s.presigned.get(key, now); ok {
		return url, nil
	}

	result, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presigning URL for %q: %w", key, err)
	}

	s.presigned.put(key, result.URL, now)

	return result.URL, nil
}
