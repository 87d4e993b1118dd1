package bookingctx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/carevia/booking-gateway/pkg/logging"
)

// RedisStore keeps booking contexts in Redis, one key per session. Values
// have no TTL: a booking intent survives until consumed or overwritten.
type RedisStore struct {
	redis  *redis.Client
	logger *logging.Logger
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client, logger *logging.Logger) *RedisStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisStore{redis: redisClient, logger: logger}
}

func (s *RedisStore) key(sessionKey string) string {
	return fmt.Sprintf("booking:context:%s", sessionKey)
}

// Save stores the context, replacing any previous value. Failures are logged
// and swallowed.
func (s *RedisStore) Save(ctx context.Context, sessionKey string, bc BookingContext) {
	data, err := json.Marshal(bc)
	if err != nil {
		s.logger.Warn("booking context not saved", "error", err)
		return
	}

	if err := s.redis.Set(ctx, s.key(sessionKey), data, 0).Err(); err != nil {
		s.logger.Warn("booking context not saved", "session", sessionKey, "error", err)
	}
}

// Get returns the stored context. Absent keys, read failures and malformed
// payloads all report ok=false.
func (s *RedisStore) Get(ctx context.Context, sessionKey string) (BookingContext, bool) {
	data, err := s.redis.Get(ctx, s.key(sessionKey)).Bytes()
	if err == redis.Nil {
		return BookingContext{}, false
	}
	if err != nil {
		s.logger.Warn("booking context read failed", "session", sessionKey, "error", err)
		return BookingContext{}, false
	}

	var bc BookingContext
	if err := json.Unmarshal(data, &bc); err != nil {
		// Malformed stored data is treated as absent, not an error.
		s.logger.Warn("booking context malformed, treating as absent", "session", sessionKey, "error", err)
		return BookingContext{}, false
	}

	return bc, true
}

// Clear removes the stored value unconditionally.
func (s *RedisStore) Clear(ctx context.Context, sessionKey string) {
	if err := s.redis.Del(ctx, s.key(sessionKey)).Err(); err != nil {
		s.logger.Warn("booking context clear failed", "session", sessionKey, "error", err)
	}
}
