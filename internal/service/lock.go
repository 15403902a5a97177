package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Locker 为 nil 时后台任务不加锁，单实例部署即可
type Locker interface {
	Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, token string) error
}

// runExclusive 抢到锁才执行 fn；返回 fn 是否执行
func runExclusive(ctx context.Context, lock Locker, name string, ttl time.Duration, logger *slog.Logger, fn func()) bool {
	if lock == nil {
		fn()
		return true
	}
	token := uuid.NewString()
	ok, err := lock.Acquire(ctx, name, token, ttl)
	if err != nil {
		logger.Warn("job lock unavailable",
			"event", "job_lock_failed",
			"module", "service/lock",
			"job", name,
			"error", err.Error(),
		)
		return false
	}
	if !ok {
		return false
	}
	defer func() {
		// ctx 可能已经取消，释放用独立的 context
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx, name, token); err != nil {
			logger.Warn("job lock release failed",
				"event", "job_unlock_failed",
				"module", "service/lock",
				"job", name,
				"error", err.Error(),
			)
		}
	}()
	fn()
	return true
}
