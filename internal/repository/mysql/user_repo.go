package mysql

import (
	"context"
	"errors"

	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errDuplicateIdentity = errs.New(errs.KindDuplicateIdentity, "username or email already registered")

type UserRepository struct {
	DB  *gorm.DB
	Seq SequenceAllocator
}

// Create 先查重再分配 ID，避免浪费序列值；并发下的重复由唯一索引兜底
func (r *UserRepository) Create(ctx context.Context, username, email, passwordHash string) (*model.User, error) {
	var n int64
	if err := r.DB.WithContext(ctx).Model(&model.User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&n).Error; err != nil {
		return nil, storeErr("check identity", err)
	}
	if n > 0 {
		return nil, errDuplicateIdentity
	}

	id, err := r.Seq.Allocate(ctx, model.SeqUserID)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	if err := r.DB.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errDuplicateIdentity
		}
		return nil, storeErr("create user", err)
	}
	return user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*model.User, error) {
	var user model.User
	if err := r.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, storeErr("find user", err)
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, storeErr("find user", err)
	}
	return &user, nil
}

// FindByIDs 批量查询，不存在的 ID 直接缺席
func (r *UserRepository) FindByIDs(ctx context.Context, ids []uint64) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []model.User
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, storeErr("find users", err)
	}
	return users, nil
}

// AddCommunity 幂等追加：已存在 (user_id, community_id) 则什么都不做
func (r *UserRepository) AddCommunity(ctx context.Context, userID, communityID uint64) error {
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "community_id"}},
		DoNothing: true,
	}).Create(&model.UserCommunity{UserID: userID, CommunityID: communityID}).Error
	return storeErr("add community index", err)
}

func (r *UserRepository) RemoveCommunity(ctx context.Context, userID, communityID uint64) error {
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND community_id = ?", userID, communityID).
		Delete(&model.UserCommunity{}).Error
	return storeErr("remove community index", err)
}

// CommunityIDs 冗余索引里的社区列表，按加入顺序
func (r *UserRepository) CommunityIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	if err := r.DB.WithContext(ctx).Model(&model.UserCommunity{}).
		Where("user_id = ?", userID).
		Order("id ASC").
		Pluck("community_id", &ids).Error; err != nil {
		return nil, storeErr("list community index", err)
	}
	return ids, nil
}

// ReplaceCommunities 用权威数据重写索引：删掉多余的，追加缺失的，已有的保持原顺序
func (r *UserRepository) ReplaceCommunities(ctx context.Context, userID uint64, communityIDs []uint64) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("user_id = ?", userID)
		if len(communityIDs) > 0 {
			del = del.Where("community_id NOT IN ?", communityIDs)
		}
		if err := del.Delete(&model.UserCommunity{}).Error; err != nil {
			return err
		}
		if len(communityIDs) == 0 {
			return nil
		}
		rows := make([]model.UserCommunity, 0, len(communityIDs))
		for _, cid := range communityIDs {
			rows = append(rows, model.UserCommunity{UserID: userID, CommunityID: cid})
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "community_id"}},
			DoNothing: true,
		}).Create(&rows).Error
	})
	return storeErr("replace community index", err)
}

// ListIDsAfter 对账用，按 ID 升序分批扫描用户
func (r *UserRepository) ListIDsAfter(ctx context.Context, lastID uint64, limit int) ([]uint64, error) {
	var ids []uint64
	if err := r.DB.WithContext(ctx).Model(&model.User{}).
		Where("id > ?", lastID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, storeErr("list users", err)
	}
	return ids, nil
}
