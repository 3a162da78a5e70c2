package audience

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"civic-notify/internal/common/logger"
	"civic-notify/internal/models"

	"github.com/redis/go-redis/v9"
)

const userCachePrefix = "civic:user:"

// CachedDirectory serves GetUser from redis and falls back to the wrapped
// directory on a miss. ListByRole is not cached.
type CachedDirectory struct {
	next   Directory
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedDirectory {
	return &CachedDirectory{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "user-cache"}),
	}
}

func (c *CachedDirectory) GetUser(ctx context.Context, id string) (*models.User, error) {
	cacheKey := userCachePrefix + id

	val, err := c.redis.Get(ctx, cacheKey).Result()
	switch {
	case err == nil:
		var u models.User
		if jsonErr := json.Unmarshal([]byte(val), &u); jsonErr == nil {
			return &u, nil
		}
		c.logger.Warn("discarding corrupt cache entry", map[string]interface{}{"key": cacheKey})
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("user cache read failed", map[string]interface{}{"userId": id, "error": err.Error()})
	}

	u, err := c.next.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(u)
	if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
		c.logger.Warn("user cache write failed", map[string]interface{}{"userId": id, "error": err.Error()})
	}
	return u, nil
}

func (c *CachedDirectory) ListByRole(ctx context.Context, role models.Role, municipality string) ([]models.User, error) {
	return c.next.ListByRole(ctx, role, municipality)
}

// Invalidate drops a cached user so the next lookup reads through.
func (c *CachedDirectory) Invalidate(ctx context.Context, id string) error {
	return c.redis.Del(ctx, userCachePrefix+id).Err()
}
