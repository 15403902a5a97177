package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg/errs"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errLastAdmin = errs.Validation("community must keep at least one admin")

type CommunityRepository struct {
	DB  *gorm.DB
	Seq SequenceAllocator
}

// Create 分配 ID 后在同一事务里写社区、创建者（admin）和 outbox 事件
func (r *CommunityRepository) Create(ctx context.Context, name, description string, branding model.Branding, creatorID uint64) (*model.Community, error) {
	if branding.PrimaryColor == "" {
		branding.PrimaryColor = model.DefaultPrimaryColor
	}
	// 序列分配自带事务，必须放在外面
	id, err := r.Seq.Allocate(ctx, model.SeqCommunityID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c := &model.Community{
		ID:          id,
		Name:        name,
		Description: description,
		Branding:    branding,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(c).Error; err != nil {
			return err
		}
		creator := model.CommunityMember{
			CommunityID: id,
			UserID:      creatorID,
			Role:        model.RoleAdmin,
			JoinedAt:    now,
		}
		if err := tx.Create(&creator).Error; err != nil {
			return err
		}
		c.Members = []model.CommunityMember{creator}
		return insertOutbox(tx, model.EventCommunityCreated, id, creatorID, map[string]any{
			"name":    name,
			"creator": creatorID,
		})
	})
	if err != nil {
		return nil, storeErr("create community", err)
	}
	return c, nil
}

func (r *CommunityRepository) FindByID(ctx context.Context, id uint64) (*model.Community, error) {
	var c model.Community
	if err := r.DB.WithContext(ctx).Preload("Members", orderMembers).First(&c, id).Error; err != nil {
		return nil, storeErr("find community", err)
	}
	return &c, nil
}

// FindByMember 以 community_members 为准查询用户所在的社区
func (r *CommunityRepository) FindByMember(ctx context.Context, userID uint64) ([]model.Community, error) {
	db := r.DB.WithContext(ctx)
	var list []model.Community
	err := db.Preload("Members", orderMembers).
		Where("id IN (?)", db.Model(&model.CommunityMember{}).Select("community_id").Where("user_id = ?", userID)).
		Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, storeErr("find communities by member", err)
	}
	return list, nil
}

// CommunityIDsByMember 用户真实加入的社区 ID，按加入顺序
func (r *CommunityRepository) CommunityIDsByMember(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	if err := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("user_id = ?", userID).
		Order("id ASC").
		Pluck("community_id", &ids).Error; err != nil {
		return nil, storeErr("list member communities", err)
	}
	return ids, nil
}

// UpdateBranding 只覆盖传入的非空字段，一条 UPDATE 完成，不会把其他字段重置成默认值
func (r *CommunityRepository) UpdateBranding(ctx context.Context, id uint64, patch model.CommunityPatch) (*model.Community, error) {
	// 没有要改的字段：不动 updated_at，也不发事件
	if patch.Empty() {
		return r.FindByID(ctx, id)
	}
	updates := map[string]any{"updated_at": time.Now()}
	changed := map[string]string{}
	set := func(column string, v *string) {
		if v != nil && *v != "" {
			updates[column] = *v
			changed[column] = *v
		}
	}
	set("name", patch.Name)
	set("description", patch.Description)
	set("branding_primary_color", patch.PrimaryColor)
	set("branding_logo_url", patch.LogoURL)

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockCommunity(tx, id); err != nil {
			return err
		}
		if err := tx.Model(&model.Community{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return insertOutbox(tx, model.EventBrandingUpdated, id, 0, map[string]any{"changed": changed})
	})
	if err != nil {
		return nil, storeErr("update branding", err)
	}
	return r.FindByID(ctx, id)
}

// UpsertMember 一条语句插入或更新成员角色；(community_id, user_id) 唯一，并发加入不会重复
func (r *CommunityRepository) UpsertMember(ctx context.Context, communityID, userID uint64, role model.Role) error {
	now := time.Now()
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockCommunity(tx, communityID); err != nil {
			return err
		}
		if role != model.RoleAdmin {
			if err := ensureOtherAdmin(tx, communityID, userID); err != nil {
				return err
			}
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "community_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
		}).Create(&model.CommunityMember{
			CommunityID: communityID,
			UserID:      userID,
			Role:        role,
			JoinedAt:    now,
			UpdatedAt:   now,
		}).Error; err != nil {
			return err
		}
		if err := touchCommunity(tx, communityID, now); err != nil {
			return err
		}
		return insertOutbox(tx, model.EventMemberUpserted, communityID, userID, map[string]any{"role": role})
	})
	return storeErr("upsert member", err)
}

// RemoveMember 幂等删除；返回是否真的删除了一行
func (r *CommunityRepository) RemoveMember(ctx context.Context, communityID, userID uint64) (bool, error) {
	var removed bool
	now := time.Now()
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockCommunity(tx, communityID); err != nil {
			return err
		}
		if err := ensureOtherAdmin(tx, communityID, userID); err != nil {
			return err
		}
		res := tx.Where("community_id = ? AND user_id = ?", communityID, userID).Delete(&model.CommunityMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		if err := touchCommunity(tx, communityID, now); err != nil {
			return err
		}
		return insertOutbox(tx, model.EventMemberRemoved, communityID, userID, nil)
	})
	return removed, storeErr("remove member", err)
}

func orderMembers(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

// lockCommunity select for update，同一社区的成员变更串行执行
func lockCommunity(tx *gorm.DB, id uint64) error {
	var c model.Community
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&c, id).Error
}

func touchCommunity(tx *gorm.DB, id uint64, now time.Time) error {
	return tx.Model(&model.Community{}).Where("id = ?", id).UpdateColumn("updated_at", now).Error
}

// ensureOtherAdmin userID 当前是 admin 时，要求社区里还有别的 admin
func ensureOtherAdmin(tx *gorm.DB, communityID, userID uint64) error {
	var cur model.CommunityMember
	err := tx.Where("community_id = ? AND user_id = ?", communityID, userID).Take(&cur).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if cur.Role != model.RoleAdmin {
		return nil
	}
	var others int64
	if err := tx.Model(&model.CommunityMember{}).
		Where("community_id = ? AND role = ? AND user_id <> ?", communityID, model.RoleAdmin, userID).
		Count(&others).Error; err != nil {
		return err
	}
	if others == 0 {
		return errLastAdmin
	}
	return nil
}

// 插入outbox事件表
func insertOutbox(tx *gorm.DB, event string, communityID, userID uint64, data map[string]any) error {
	eventID := uuid.NewString()
	payload, err := json.Marshal(map[string]any{
		"event_id":     eventID,
		"event_type":   event,
		"event_time":   time.Now().UTC().Format(time.RFC3339Nano),
		"community_id": communityID,
		"user_id":      userID,
		"data":         data,
	})
	if err != nil {
		return err
	}
	return tx.Create(&model.MembershipOutbox{
		EventID:     eventID,
		EventType:   event,
		CommunityID: communityID,
		UserID:      userID,
		Payload:     string(payload),
		Status:      model.OutboxPending,
	}).Error
}
