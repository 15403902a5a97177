package service

import (
	"context"
	"log/slog"
	"time"

	"SignalCAD/internal/model"
)

// IdentityStore 用户记录及其社区冗余索引
type IdentityStore interface {
	Create(ctx context.Context, username, email, passwordHash string) (*model.User, error)
	FindByID(ctx context.Context, id uint64) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// FindByIDs 不存在的 ID 直接缺席，不报错
	FindByIDs(ctx context.Context, ids []uint64) ([]model.User, error)
	AddCommunity(ctx context.Context, userID, communityID uint64) error
	RemoveCommunity(ctx context.Context, userID, communityID uint64) error
	CommunityIDs(ctx context.Context, userID uint64) ([]uint64, error)
	ReplaceCommunities(ctx context.Context, userID uint64, communityIDs []uint64) error
}

// CommunityStore 社区及成员（权威数据）
type CommunityStore interface {
	Create(ctx context.Context, name, description string, branding model.Branding, creatorID uint64) (*model.Community, error)
	FindByID(ctx context.Context, id uint64) (*model.Community, error)
	FindByMember(ctx context.Context, userID uint64) ([]model.Community, error)
	CommunityIDsByMember(ctx context.Context, userID uint64) ([]uint64, error)
	UpdateBranding(ctx context.Context, id uint64, patch model.CommunityPatch) (*model.Community, error)
	UpsertMember(ctx context.Context, communityID, userID uint64, role model.Role) error
	RemoveMember(ctx context.Context, communityID, userID uint64) (bool, error)
}

// SessionStore 登录态登记，nil 表示不校验
type SessionStore interface {
	Save(ctx context.Context, userID uint64, token string, ttl time.Duration) error
	Get(ctx context.Context, userID uint64) (string, error)
	Delete(ctx context.Context, userID uint64) error
}

// IdentityCache 成员展示信息缓存，nil 表示直接查库
type IdentityCache interface {
	GetMany(ctx context.Context, ids []uint64) (map[uint64]model.Identity, error)
	SetMany(ctx context.Context, identities []model.Identity) error
}

func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
