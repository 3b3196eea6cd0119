package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	u "texreport/internal/utils"
)

// computeCacheKey hashes the rendered LaTeX source. Identical source always
// compiles to the same PDF.
func computeCacheKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return "texcache:" + hex.EncodeToString(sum[:])
}

// getCachedPDF returns the cached PDF bytes, or nil on a miss.
func getCachedPDF(c *fiber.Ctx, rdb *redis.Client, key string) ([]byte, error) {
	ctxRedis, cancel := context.WithTimeout(c.Context(), 1*time.Second)
	defer cancel()

	cached, err := rdb.Get(ctxRedis, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return nil, err
	}

	u.Info("PDF cache hit", "key", key)
	return cached, nil
}

// setCachedPDF stores a PDF in Redis. A non-positive ttl defaults to one minute.
func setCachedPDF(c *fiber.Ctx, rdb *redis.Client, key string, data []byte, ttl time.Duration) {
	ctxRedis, cancel := context.WithTimeout(c.Context(), 1*time.Second)
	defer cancel()

	if ttl <= 0 {
		ttl = 1 * time.Minute
	}

	if err := rdb.Set(ctxRedis, key, data, ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}
