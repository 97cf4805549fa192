package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is the key-value collaborator used for job-result caching and for
// publishing metrics, alerts and health snapshots.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// ResultKey derives the deterministic cache key for a job result. Fields
// are length-prefixed before hashing so no two distinct (queueType, kind,
// data) triples can collide by concatenation.
func ResultKey(queueType, kind string, data []byte) string {
	h := sha256.New()
	var n [8]byte
	for _, field := range [][]byte{[]byte(queueType), []byte(kind), data} {
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write(field)
	}
	return "job:result:" + hex.EncodeToString(h.Sum(nil))
}
