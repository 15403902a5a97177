package redis

import (
	"context"
	"fmt"
	"time"

	"SignalCAD/internal/pkg/errs"

	"github.com/redis/go-redis/v9"
)

const LockKeyPrefix = "lock:job"

// 只有持有者才能释放，避免误删别人续上的锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// DistLock 后台任务的分布式锁，多实例部署时同一时刻只有一个实例执行
type DistLock struct {
	RDB *redis.Client
}

func (l *DistLock) key(name string) string {
	return fmt.Sprintf("%s:%s", LockKeyPrefix, name)
}

// Acquire 请求加分布式锁，ttl 到期自动释放
func (l *DistLock) Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	ok, err := l.RDB.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return false, errs.Transient("acquire lock", err)
	}
	return ok, nil
}

// Release 用lua保证原子性
func (l *DistLock) Release(ctx context.Context, name, token string) error {
	if err := releaseScript.Run(ctx, l.RDB, []string{l.key(name)}, token).Err(); err != nil {
		return errs.Transient("release lock", err)
	}
	return nil
}
