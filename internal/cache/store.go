package cache

import (
	"context"
	"time"
)

// Store is the keyed byte store shared by the answer cache and the
// source cache. Implemented by the memory store (dev, tests) and the
// Redis store (prod).
//
// Get reports a miss for both "never written" and "written but expired";
// callers must not distinguish the two. Set overwrites any prior entry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// AnswerTTL bounds every answer-cache entry. The source cache uses the
// same horizon for scraped documents.
const AnswerTTL = time.Hour
