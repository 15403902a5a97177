package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalCAD/internal/pkg/errs"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound 会话过期或已登出，调用方按未认证处理
var ErrSessionNotFound = errs.Unauthorized("session not found")

const UserTokenPrefix = "login:user:token"

// SessionRepository 每个用户只保留最近一次登录的 token
type SessionRepository struct {
	RDB *redis.Client
}

func (r *SessionRepository) key(userID uint64) string {
	return fmt.Sprintf("%s:%d", UserTokenPrefix, userID)
}

func (r *SessionRepository) Save(ctx context.Context, userID uint64, token string, ttl time.Duration) error {
	if err := r.RDB.Set(ctx, r.key(userID), token, ttl).Err(); err != nil {
		return errs.Transient("save session", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, userID uint64) (string, error) {
	token, err := r.RDB.Get(ctx, r.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", errs.Transient("load session", err)
	}
	return token, nil
}

func (r *SessionRepository) Delete(ctx context.Context, userID uint64) error {
	if err := r.RDB.Del(ctx, r.key(userID)).Err(); err != nil {
		return errs.Transient("delete session", err)
	}
	return nil
}
