package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// EmbeddingKey generates a cache key for a query-embedding lookup.
func EmbeddingKey(query string) string {
	hash := sha256.Sum256([]byte(query))
	return "claimpilot:embed:v1:" + hex.EncodeToString(hash[:])
}
