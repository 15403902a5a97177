package service

import (
	"time"

	"SignalCAD/internal/model"
)

type MemberView struct {
	UserID   uint64     `json:"userId"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Role     model.Role `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
}

type BrandingView struct {
	PrimaryColor string `json:"primaryColor"`
	LogoURL      string `json:"logoUrl"`
}

// CommunityView 返回给调用方的社区视图，Role 是调用者在该社区的角色
type CommunityView struct {
	ID          uint64       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Branding    BrandingView `json:"branding"`
	Members     []MemberView `json:"members"`
	Role        model.Role   `json:"role"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	// Degraded 社区已创建，但用户侧索引或成员信息没有处理完整
	Degraded bool `json:"degraded,omitempty"`
}

type UserView struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      UserView  `json:"user"`
}

// buildView 按 members 原有顺序拼装，identities 缺失的成员用占位身份
func buildView(c *model.Community, callerID uint64, identities map[uint64]model.Identity) CommunityView {
	members := make([]MemberView, len(c.Members))
	for i, m := range c.Members {
		ident, ok := identities[m.UserID]
		if !ok {
			ident = model.UnknownIdentity(m.UserID)
		}
		members[i] = MemberView{
			UserID:   m.UserID,
			Username: ident.Username,
			Email:    ident.Email,
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		}
	}
	return CommunityView{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Branding: BrandingView{
			PrimaryColor: c.Branding.PrimaryColor,
			LogoURL:      c.Branding.LogoURL,
		},
		Members:   members,
		Role:      RoleOf(c, callerID),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func memberIDs(cs ...*model.Community) []uint64 {
	var ids []uint64
	for _, c := range cs {
		for _, m := range c.Members {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}
