package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/echocast/core/internal/pkg/redis"
	"github.com/echocast/core/internal/pkg/response"
)

const (
	rateLimitWindow = time.Minute
	rateLimitMax    = 120
)

// RateLimit applies a per-IP sliding window limit backed by Redis.
// Authenticated requests are exempt. Fails open when Redis errors.
func RateLimit(rdb *redis.Client, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAuthenticated(c) {
			c.Next()
			return
		}

		window := time.Now().Unix() / int64(rateLimitWindow.Seconds())
		key := fmt.Sprintf("ec:rate_limit:%s:%d", c.ClientIP(), window)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		count, err := incrWithExpiry(ctx, rdb.Raw(), key, rateLimitWindow)
		if err != nil {
			log.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if count > rateLimitMax {
			response.TooManyRequests(c, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func incrWithExpiry(ctx context.Context, rdb *goredis.Client, key string, ttl time.Duration) (int64, error) {
	pipe := rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
