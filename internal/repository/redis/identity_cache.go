package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SignalCAD/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	IdentityKeyPrefix = "identity:user"
	IdentityTTL       = 10 * time.Minute
)

// IdentityCache 成员展示信息缓存，只存 username/email
type IdentityCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewIdentityCache(rdb *redis.Client) *IdentityCache {
	return &IdentityCache{RDB: rdb, TTL: IdentityTTL}
}

func (c *IdentityCache) key(userID uint64) string {
	return fmt.Sprintf("%s:%d", IdentityKeyPrefix, userID)
}

// GetMany 一次 MGET；未命中的 ID 不在结果里
func (c *IdentityCache) GetMany(ctx context.Context, ids []uint64) (map[uint64]model.Identity, error) {
	out := make(map[uint64]model.Identity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	vals, err := c.RDB.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var ident model.Identity
		if err := json.Unmarshal([]byte(s), &ident); err != nil || ident.UserID != ids[i] {
			continue
		}
		out[ids[i]] = ident
	}
	return out, nil
}

func (c *IdentityCache) SetMany(ctx context.Context, identities []model.Identity) error {
	if len(identities) == 0 {
		return nil
	}
	_, err := c.RDB.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, ident := range identities {
			b, err := json.Marshal(ident)
			if err != nil {
				return err
			}
			p.Set(ctx, c.key(ident.UserID), b, c.TTL)
		}
		return nil
	})
	return err
}
