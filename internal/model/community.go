package model

import "time"

const DefaultPrimaryColor = "#4f46e5"

type Role string

const (
	RoleCiv      Role = "civ"
	RoleLEO      Role = "leo"
	RoleDispatch Role = "dispatch"
	RoleFire     Role = "fire"
	RoleAdmin    Role = "admin"

	// RoleNone 非成员，没有任何权限；不会被持久化
	RoleNone Role = "none"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCiv, RoleLEO, RoleDispatch, RoleFire, RoleAdmin:
		return true
	}
	return false
}

type Branding struct {
	PrimaryColor string `gorm:"size:32;not null"`
	LogoURL      string `gorm:"size:512;not null"`
}

type Community struct {
	ID          uint64            `gorm:"primaryKey;autoIncrement:false"` // 由 communityId 序列分配
	Name        string            `gorm:"size:64;not null"`
	Description string            `gorm:"type:text"`
	Branding    Branding          `gorm:"embedded;embeddedPrefix:branding_"`
	Members     []CommunityMember `gorm:"foreignKey:CommunityID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CommunityMember 成员顺序即插入顺序（按 ID 升序）
type CommunityMember struct {
	ID          uint64 `gorm:"primaryKey"`
	CommunityID uint64 `gorm:"not null;index;uniqueIndex:uk_community_user"`
	UserID      uint64 `gorm:"not null;index;uniqueIndex:uk_community_user"`
	Role        Role   `gorm:"size:16;not null"`
	JoinedAt    time.Time
	UpdatedAt   time.Time
}

// CommunityPatch 部分更新：nil 或空串的字段保持原值
type CommunityPatch struct {
	Name         *string
	Description  *string
	PrimaryColor *string
	LogoURL      *string
}

func (p CommunityPatch) Empty() bool {
	for _, f := range []*string{p.Name, p.Description, p.PrimaryColor, p.LogoURL} {
		if f != nil && *f != "" {
			return false
		}
	}
	return true
}
