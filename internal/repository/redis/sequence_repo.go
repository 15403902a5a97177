package redis

import (
	"context"
	"fmt"

	"SignalCAD/internal/pkg/errs"

	"github.com/redis/go-redis/v9"
)

const SeqKeyPrefix = "seq"

// 不存在则写入初始值，再 INCR；脚本在服务端原子执行
var allocateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("SET", KEYS[1], ARGV[1])
end
return redis.call("INCR", KEYS[1])
`)

type SequenceRepository struct {
	RDB   *redis.Client
	Start uint64
}

func (r *SequenceRepository) Allocate(ctx context.Context, namespace string) (uint64, error) {
	key := fmt.Sprintf("%s:%s", SeqKeyPrefix, namespace)
	v, err := allocateScript.Run(ctx, r.RDB, []string{key}, r.Start).Int64()
	if err != nil {
		return 0, errs.Transient("allocate "+namespace, err)
	}
	return uint64(v), nil
}
