package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/infrastructure/redis"
)

const sessionKeyPrefix = "session:"

// sessionRetention keeps a session record past its deadline so a late
// request is reported as expired rather than unknown.
const sessionRetention = time.Minute

// rotateSessionScript swaps KEYS[1] for KEYS[2] on the server so no reader can
// observe both ids live, or neither.
var rotateSessionScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return -1
end
redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
redis.call("DEL", KEYS[1])
return 1
`)

// RedisSessionRepository implements domain.SessionRepository using Redis.
// Keys carry a TTL of the remaining session lifetime plus sessionRetention.
type RedisSessionRepository struct {
	redis  *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisSessionRepository creates a new session repository
func NewRedisSessionRepository(redisClient *redis.Client, logger *slog.Logger, now func() time.Time) *RedisSessionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &RedisSessionRepository{
		redis:  redisClient,
		logger: logger,
		now:    now,
	}
}

// Create stores a session with SET NX
func (r *RedisSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := r.redis.SetNX(ctx, sessionKey(s.ID), string(data), r.ttl(s))
	if err != nil {
		return domain.Unavailable("create session", err)
	}
	if !ok {
		return fmt.Errorf("session id collision")
	}

	r.logger.Debug("session stored", slog.Int64("user_id", s.UserID))
	return nil
}

// Get loads a session from Redis
func (r *RedisSessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.redis.Get(ctx, sessionKey(id))
	if err != nil {
		if redis.IsNil(err) {
			return nil, domain.ErrNoSession
		}
		return nil, domain.Unavailable("get session", err)
	}

	var s domain.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		r.logger.Error("corrupt session record, dropping", slog.String("error", err.Error()))
		_ = r.redis.Delete(ctx, sessionKey(id))
		return nil, domain.ErrNoSession
	}

	return &s, nil
}

// Rotate replaces oldID by next.ID atomically
func (r *RedisSessionRepository) Rotate(ctx context.Context, oldID string, next *domain.Session) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	res, err := r.redis.Run(ctx, rotateSessionScript,
		[]string{sessionKey(oldID), sessionKey(next.ID)},
		string(data), r.ttl(next).Milliseconds(),
	)
	if err != nil {
		return domain.Unavailable("rotate session", err)
	}

	switch code, _ := res.(int64); code {
	case 1:
		return nil
	case 0:
		return domain.ErrNoSession
	default:
		return fmt.Errorf("session id collision")
	}
}

// Delete removes a session; deleting a missing key is not an error
func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.redis.Delete(ctx, sessionKey(id)); err != nil {
		return domain.Unavailable("delete session", err)
	}
	return nil
}

func (r *RedisSessionRepository) ttl(s *domain.Session) time.Duration {
	ttl := s.Remaining(r.now()) + sessionRetention
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
