package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg/errs"
)

const (
	maxCommunityName  = 64
	maxPrimaryColor   = 32
	maxLogoURL        = 512
	communityLogScope = "service/community"
)

type CommunityService struct {
	communities CommunityStore
	users       IdentityStore
	enricher    *Enricher
	logger      *slog.Logger
}

func NewCommunityService(communities CommunityStore, users IdentityStore, enricher *Enricher, logger *slog.Logger) *CommunityService {
	return &CommunityService{
		communities: communities,
		users:       users,
		enricher:    enricher,
		logger:      ResolveLogger(logger),
	}
}

// RoleOf 调用者在社区里的角色，不是成员返回 none
func RoleOf(c *model.Community, userID uint64) model.Role {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m.Role
		}
	}
	return model.RoleNone
}

// authorizeAdmin 社区资料、品牌、成员的修改只允许 admin
func authorizeAdmin(c *model.Community, callerID uint64) error {
	if RoleOf(c, callerID) != model.RoleAdmin {
		return errs.Forbidden("admin role required")
	}
	return nil
}

// CreateCommunity 创建社区并把创建者登记为唯一 admin；用户侧索引写失败不回滚，返回 Degraded 视图
func (s *CommunityService) CreateCommunity(ctx context.Context, callerID uint64, name, description string, branding model.Branding) (*CommunityView, error) {
	if callerID == 0 {
		return nil, errs.Unauthorized("unauthorized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Validation("community name required")
	}
	if err := validateFields(&name, &branding.PrimaryColor, &branding.LogoURL); err != nil {
		return nil, err
	}

	c, err := s.communities.Create(ctx, name, strings.TrimSpace(description), branding, callerID)
	if err != nil {
		s.logger.Error("create community failed",
			"event", "community_create_failed",
			"module", communityLogScope,
			"user_id", callerID,
			"error", err.Error(),
		)
		return nil, err
	}

	degraded := false
	if err := s.users.AddCommunity(ctx, callerID, c.ID); err != nil {
		degraded = true
		s.logger.Error("community created but user back-reference failed",
			"event", "community_backref_failed",
			"module", communityLogScope,
			"kind", errs.KindInconsistency,
			"community_id", c.ID,
			"user_id", callerID,
			"error", err.Error(),
		)
	}

	identities, err := s.enricher.Resolve(ctx, memberIDs(c))
	if err != nil {
		// 社区已经落库，不能当作失败返回
		degraded = true
		s.logger.Warn("community created but member enrichment failed",
			"event", "community_create_enrich_failed",
			"module", communityLogScope,
			"community_id", c.ID,
			"error", err.Error(),
		)
	}
	view := buildView(c, callerID, identities)
	view.Degraded = degraded
	s.logger.Info("community created",
		"event", "community_created",
		"module", communityLogScope,
		"community_id", c.ID,
		"user_id", callerID,
	)
	return &view, nil
}

// ListMyCommunities 以成员表为准列出调用者的社区，顺便修复用户侧过期索引
func (s *CommunityService) ListMyCommunities(ctx context.Context, callerID uint64) ([]CommunityView, error) {
	if callerID == 0 {
		return nil, errs.Unauthorized("unauthorized")
	}
	list, err := s.communities.FindByMember(ctx, callerID)
	if err != nil {
		return nil, err
	}

	ptrs := make([]*model.Community, len(list))
	for i := range list {
		ptrs[i] = &list[i]
	}
	identities, err := s.enricher.Resolve(ctx, memberIDs(ptrs...))
	if err != nil {
		return nil, err
	}

	views := make([]CommunityView, len(list))
	for i, c := range ptrs {
		views[i] = buildView(c, callerID, identities)
	}

	ids := make([]uint64, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	s.healIndex(ctx, callerID, ids)
	return views, nil
}

// GetCommunity 非成员也可以查看，角色为 none
func (s *CommunityService) GetCommunity(ctx context.Context, communityID, callerID uint64) (*CommunityView, error) {
	if callerID == 0 {
		return nil, errs.Unauthorized("unauthorized")
	}
	c, err := s.communities.FindByID(ctx, communityID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c, callerID)
}

// UpdateBranding 先判断社区是否存在，再判断权限；只覆盖传入的非空字段，全空时不写库
func (s *CommunityService) UpdateBranding(ctx context.Context, communityID, callerID uint64, patch model.CommunityPatch) (*CommunityView, error) {
	if callerID == 0 {
		return nil, errs.Unauthorized("unauthorized")
	}
	c, err := s.communities.FindByID(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if err := authorizeAdmin(c, callerID); err != nil {
		s.logger.Warn("branding update rejected",
			"event", "community_branding_forbidden",
			"module", communityLogScope,
			"community_id", communityID,
			"user_id", callerID,
		)
		return nil, err
	}
	patch = normalizePatch(patch)
	if err := validateFields(patch.Name, patch.PrimaryColor, patch.LogoURL); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return s.view(ctx, c, callerID)
	}

	updated, err := s.communities.UpdateBranding(ctx, communityID, patch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("community branding updated",
		"event", "community_branding_updated",
		"module", communityLogScope,
		"community_id", communityID,
		"user_id", callerID,
	)
	return s.view(ctx, updated, callerID)
}

// SetMemberRole admin 添加成员或修改已有成员的角色
func (s *CommunityService) SetMemberRole(ctx context.Context, communityID, callerID, userID uint64, role model.Role) (*CommunityView, error) {
	if callerID == 0 {
		return nil, errs.Unauthorized("unauthorized")
	}
	if !role.Valid() {
		return nil, errs.Validation("role must be one of civ, leo, dispatch, fire, admin")
	}
	c, err := s.communities.FindByID(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if err := authorizeAdmin(c, callerID); err != nil {
		return nil, err
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return nil, errs.NotFound("user not found")
		}
		return nil, err
	}

	if err := s.communities.UpsertMember(ctx, communityID, userID, role); err != nil {
		return nil, err
	}
	if err := s.users.AddCommunity(ctx, userID, communityID); err != nil {
		s.logger.Error("member saved but user back-reference failed",
			"event", "member_backref_failed",
			"module", communityLogScope,
			"kind", errs.KindInconsistency,
			"community_id", communityID,
			"user_id", userID,
			"error", err.Error(),
		)
	}
	s.logger.Info("community member role set",
		"event", "community_member_upserted",
		"module", communityLogScope,
		"community_id", communityID,
		"user_id", userID,
		"admin_id", callerID,
		"role", role,
	)

	updated, err := s.communities.FindByID(ctx, communityID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, updated, callerID)
}

// RemoveMember admin 可以移除任何人，普通成员只能移除自己（退出）
func (s *CommunityService) RemoveMember(ctx context.Context, communityID, callerID, userID uint64) error {
	if callerID == 0 {
		return errs.Unauthorized("unauthorized")
	}
	c, err := s.communities.FindByID(ctx, communityID)
	if err != nil {
		return err
	}
	if callerID != userID {
		if err := authorizeAdmin(c, callerID); err != nil {
			return err
		}
	}
	if RoleOf(c, userID) == model.RoleNone {
		return errs.NotFound("member not found")
	}

	if _, err := s.communities.RemoveMember(ctx, communityID, userID); err != nil {
		return err
	}
	if err := s.users.RemoveCommunity(ctx, userID, communityID); err != nil {
		s.logger.Error("member removed but user back-reference cleanup failed",
			"event", "member_backref_cleanup_failed",
			"module", communityLogScope,
			"kind", errs.KindInconsistency,
			"community_id", communityID,
			"user_id", userID,
			"error", err.Error(),
		)
	}
	s.logger.Info("community member removed",
		"event", "community_member_removed",
		"module", communityLogScope,
		"community_id", communityID,
		"user_id", userID,
		"operator_id", callerID,
	)
	return nil
}

// SyncMembershipIndex 用成员表重建用户侧索引，返回是否发生了修正
func (s *CommunityService) SyncMembershipIndex(ctx context.Context, userID uint64) (bool, error) {
	authoritative, err := s.communities.CommunityIDsByMember(ctx, userID)
	if err != nil {
		return false, err
	}
	current, err := s.users.CommunityIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.replaceIndex(ctx, userID, authoritative, current)
}

func (s *CommunityService) replaceIndex(ctx context.Context, userID uint64, authoritative, current []uint64) (bool, error) {
	if sameSet(authoritative, current) {
		return false, nil
	}
	if err := s.users.ReplaceCommunities(ctx, userID, authoritative); err != nil {
		return false, err
	}
	s.logger.Info("membership index reconciled",
		"event", "membership_index_reconciled",
		"module", communityLogScope,
		"user_id", userID,
		"communities", len(authoritative),
		"stale", len(current),
	)
	return true, nil
}

// healIndex 读路径上的自愈，authoritative 来自刚查到的成员表；失败只记日志
func (s *CommunityService) healIndex(ctx context.Context, userID uint64, authoritative []uint64) {
	current, err := s.users.CommunityIDs(ctx, userID)
	if err != nil {
		s.logger.Warn("membership index read failed",
			"event", "membership_index_read_failed",
			"module", communityLogScope,
			"user_id", userID,
			"error", err.Error(),
		)
		return
	}
	if _, err := s.replaceIndex(ctx, userID, authoritative, current); err != nil {
		s.logger.Warn("membership index heal failed",
			"event", "membership_index_heal_failed",
			"module", communityLogScope,
			"user_id", userID,
			"error", err.Error(),
		)
	}
}

func (s *CommunityService) view(ctx context.Context, c *model.Community, callerID uint64) (*CommunityView, error) {
	identities, err := s.enricher.Resolve(ctx, memberIDs(c))
	if err != nil {
		return nil, err
	}
	v := buildView(c, callerID, identities)
	return &v, nil
}

// normalizePatch 去掉首尾空白，空白字段视为未传
func normalizePatch(p model.CommunityPatch) model.CommunityPatch {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		if t == "" {
			return nil
		}
		return &t
	}
	return model.CommunityPatch{
		Name:         trim(p.Name),
		Description:  trim(p.Description),
		PrimaryColor: trim(p.PrimaryColor),
		LogoURL:      trim(p.LogoURL),
	}
}

// validateFields nil 表示未传，不校验
func validateFields(name, primaryColor, logoURL *string) error {
	check := func(v *string, max int, field string) error {
		if v != nil && utf8.RuneCountInString(*v) > max {
			return errs.Validation(field + " is too long")
		}
		return nil
	}
	if err := check(name, maxCommunityName, "name"); err != nil {
		return err
	}
	if err := check(primaryColor, maxPrimaryColor, "primaryColor"); err != nil {
		return err
	}
	if err := check(logoURL, maxLogoURL, "logoUrl"); err != nil {
		return err
	}
	return nil
}

func sameSet(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[uint64]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
