// Package cache provides the layered fetch cache used by verification.
// Counter-searches and citation checks re-fetch the same addresses
// repeatedly within a session; responses are cached in memory first,
// then on disk, keyed by hashed URL.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache is the storage interface shared by all layers.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives a stable cache key from a URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "concord:v1:" + hex.EncodeToString(sum[:])
}
