package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg/errs"
	"SignalCAD/internal/repository/mysql"
	"SignalCAD/internal/repository/mysql/mysqltest"
	"SignalCAD/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyUsers 包一层真实仓库，按需注入故障
type flakyUsers struct {
	*mysql.UserRepository
	addErr  error
	findErr error
	finds   atomic.Int64
	// delay 按 ID 拖慢批量查询，用来打乱完成顺序
	delay map[uint64]time.Duration
}

func (f *flakyUsers) AddCommunity(ctx context.Context, userID, communityID uint64) error {
	if f.addErr != nil {
		return f.addErr
	}
	return f.UserRepository.AddCommunity(ctx, userID, communityID)
}

func (f *flakyUsers) FindByID(ctx context.Context, id uint64) (*model.User, error) {
	f.finds.Add(1)
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.UserRepository.FindByID(ctx, id)
}

func (f *flakyUsers) FindByIDs(ctx context.Context, ids []uint64) ([]model.User, error) {
	f.finds.Add(int64(len(ids)))
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, id := range ids {
		if d, ok := f.delay[id]; ok {
			time.Sleep(d)
		}
	}
	return f.UserRepository.FindByIDs(ctx, ids)
}

type fixture struct {
	db          *gorm.DB
	users       *flakyUsers
	communities *mysql.CommunityRepository
	svc         *service.CommunityService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := mysqltest.NewDB(t)
	seq := mysql.NewSequenceRepository(db, 16200)
	users := &flakyUsers{UserRepository: &mysql.UserRepository{DB: db, Seq: seq}}
	communities := &mysql.CommunityRepository{DB: db, Seq: seq}
	enricher := service.NewEnricher(users, nil, 4, discardLogger())
	return &fixture{
		db:          db,
		users:       users,
		communities: communities,
		svc:         service.NewCommunityService(communities, users, enricher, discardLogger()),
	}
}

func (f *fixture) signup(t *testing.T, name string) uint64 {
	t.Helper()
	u, err := f.users.Create(context.Background(), name, name+"@example.com", "hash")
	require.NoError(t, err)
	return u.ID
}

func strPtr(s string) *string { return &s }

func usernames(v service.CommunityView) []string {
	out := make([]string, len(v.Members))
	for i, m := range v.Members {
		out[i] = m.Username
	}
	return out
}

func TestCreateCommunity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	require.Equal(t, uint64(16201), alice)

	view, err := f.svc.CreateCommunity(ctx, alice, "  Squad1 ", "", model.Branding{})
	require.NoError(t, err)
	assert.Equal(t, uint64(16201), view.ID)
	assert.Equal(t, "Squad1", view.Name)
	assert.Equal(t, model.RoleAdmin, view.Role)
	assert.Equal(t, model.DefaultPrimaryColor, view.Branding.PrimaryColor)
	assert.False(t, view.Degraded)
	require.Len(t, view.Members, 1)
	assert.Equal(t, "alice", view.Members[0].Username)
	assert.Equal(t, "alice@example.com", view.Members[0].Email)

	ids, err := f.users.CommunityIDs(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{view.ID}, ids)
}

func TestCreateCommunityValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCommunity(ctx, 0, "Squad1", "", model.Branding{})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	alice := f.signup(t, "alice")
	_, err = f.svc.CreateCommunity(ctx, alice, "   ", "", model.Branding{})
	assert.ErrorIs(t, err, errs.ErrValidation)

	var n int64
	require.NoError(t, f.db.Model(&model.Community{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateCommunityBackrefFailureIsDegraded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	f.users.addErr = errs.Transient("index write", errors.New("connection reset"))

	view, err := f.svc.CreateCommunity(ctx, alice, "Squad1", "", model.Branding{})
	require.NoError(t, err)
	assert.True(t, view.Degraded)

	// 社区本身已经落库
	got, err := f.communities.FindByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, service.RoleOf(got, alice))

	ids, err := f.users.CommunityIDs(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// 列表以成员表为准，同时把索引修好
	f.users.addErr = nil
	list, err := f.svc.ListMyCommunities(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, view.ID, list[0].ID)

	ids, err = f.users.CommunityIDs(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{view.ID}, ids)
}

func TestListMyCommunitiesKeepsMemberOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.signup(t, "u1")
	u2 := f.signup(t, "u2")
	u3 := f.signup(t, "u3")

	c, err := f.svc.CreateCommunity(ctx, u3, "Dispatch", "", model.Branding{})
	require.NoError(t, err)
	_, err = f.svc.SetMemberRole(ctx, c.ID, u3, u1, model.RoleLEO)
	require.NoError(t, err)
	_, err = f.svc.SetMemberRole(ctx, c.ID, u3, u2, model.RoleDispatch)
	require.NoError(t, err)

	for _, caller := range []uint64{u1, u2, u3} {
		list, err := f.svc.ListMyCommunities(ctx, caller)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, []string{"u3", "u1", "u2"}, usernames(list[0]))
		assert.Equal(t, service.RoleOf(mustFind(t, f, c.ID), caller), list[0].Role)
	}
}

func TestListMyCommunitiesOrderIgnoresLookupCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.signup(t, "u1")
	u2 := f.signup(t, "u2")
	u3 := f.signup(t, "u3")

	c, err := f.svc.CreateCommunity(ctx, u3, "Dispatch", "", model.Branding{})
	require.NoError(t, err)
	_, err = f.svc.SetMemberRole(ctx, c.ID, u3, u1, model.RoleLEO)
	require.NoError(t, err)
	_, err = f.svc.SetMemberRole(ctx, c.ID, u3, u2, model.RoleDispatch)
	require.NoError(t, err)

	// 每个 ID 单独一批；u3 最慢，u1 次之，u2 最先返回
	f.users.delay = map[uint64]time.Duration{u3: 60 * time.Millisecond, u1: 30 * time.Millisecond}
	enricher := service.NewEnricher(f.users, nil, 3, discardLogger()).WithBatchSize(1)
	svc := service.NewCommunityService(f.communities, f.users, enricher, discardLogger())

	list, err := svc.ListMyCommunities(ctx, u1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"u3", "u1", "u2"}, usernames(list[0]))
	assert.Equal(t, model.RoleLEO, list[0].Role)
}

func TestListMyCommunitiesUnknownMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	c, err := f.svc.CreateCommunity(ctx, alice, "Squad1", "", model.Branding{})
	require.NoError(t, err)

	// 成员行指向一个不存在的用户
	require.NoError(t, f.communities.UpsertMember(ctx, c.ID, 99999, model.RoleCiv))

	list, err := f.svc.ListMyCommunities(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Members, 2)
	ghost := list[0].Members[1]
	assert.Equal(t, uint64(99999), ghost.UserID)
	assert.Equal(t, model.UnknownUsername, ghost.Username)
	assert.Equal(t, "", ghost.Email)
	assert.Equal(t, model.RoleCiv, ghost.Role)
}

func TestListMyCommunitiesStoreFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	_, err := f.svc.CreateCommunity(ctx, alice, "Squad1", "", model.Branding{})
	require.NoError(t, err)

	f.users.findErr = errs.Transient("find user", errors.New("i/o timeout"))
	_, err = f.svc.ListMyCommunities(ctx, alice)
	assert.ErrorIs(t, err, errs.ErrTransient)
}

func TestListMyCommunitiesEmpty(t *testing.T) {
	f := newFixture(t)
	list, err := f.svc.ListMyCommunities(context.Background(), f.signup(t, "alice"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEnricherDedupesLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.signup(t, "alice")
	b := f.signup(t, "bobby")

	e := service.NewEnricher(f.users, nil, 2, discardLogger())
	got, err := e.Resolve(ctx, []uint64{a, a, b, a, 4242})
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.users.finds.Load())
	assert.Equal(t, "alice", got[a].Username)
	assert.Equal(t, "bobby", got[b].Username)
	assert.Equal(t, model.UnknownIdentity(4242), got[4242])
}

func TestEnricherBatchesLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := []uint64{}
	for _, name := range []string{"alice", "bobby", "carol", "dave1", "erin1"} {
		ids = append(ids, f.signup(t, name))
	}
	ids = append(ids, 4242)

	e := service.NewEnricher(f.users, nil, 2, discardLogger()).WithBatchSize(2)
	got, err := e.Resolve(ctx, ids)
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, "carol", got[ids[2]].Username)
	assert.Equal(t, "erin1", got[ids[4]].Username)
	assert.Equal(t, model.UnknownIdentity(4242), got[4242])
	assert.Equal(t, int64(6), f.users.finds.Load())
}

func TestGetCommunity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bobby")
	c, err := f.svc.CreateCommunity(ctx, alice, "Squad1", "desc", model.Branding{})
	require.NoError(t, err)

	view, err := f.svc.GetCommunity(ctx, c.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, model.RoleNone, view.Role)
	assert.Equal(t, "desc", view.Description)

	_, err = f.svc.GetCommunity(ctx, 1, alice)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdateBrandingAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bobby")
	carol := f.signup(t, "carol")
	c, err := f.svc.CreateCommunity(ctx, alice, "Squad1", "", model.Branding{})
	require.NoError(t, err)
	_, err = f.svc.SetMemberRole(ctx, c.ID, alice, carol, model.RoleLEO)
	require.NoError(t, err)

	patch := model.CommunityPatch{PrimaryColor: strPtr("#ff0000")}

	// 不存在优先于无权限
	_, err = f.svc.UpdateBranding(ctx, 1, bob, patch)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.UpdateBranding(ctx, c.ID, bob, patch)
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.svc.UpdateBranding(ctx, c.ID, carol, patch)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	got := mustFind(t, f, c.ID)
	assert.Equal(t, model.DefaultPrimaryColor, got.Branding.PrimaryColor)

	view, err := f.svc.UpdateBranding(ctx, c.ID, alice, patch)
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", view.Branding.PrimaryColor)
}

func TestUpdateBrandingPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	c, err := f.svc.CreateCommunity(ctx, alice, "Squad1", "desc", model.Branding{LogoURL: "https://cdn.example.com/logo.png"})
	require.NoError(t, err)

	view, err := f.svc.UpdateBranding(ctx, c.ID, alice, model.CommunityPatch{PrimaryColor: strPtr("#111111")})
	require.NoError(t, err)
	assert.Equal(t, "#111111", view.Branding.PrimaryColor)
	assert.Equal(t, "https://cdn.example.com/logo.png", view.Branding.LogoURL)
	assert.Equal(t, "Squad1", view.Name)

	// 空字符串等同于未传
	// 只有空白的字段同样保持原值
	view, err = f.svc.UpdateBranding(ctx, c.ID, alice, model.CommunityPatch{
		Name:         strPtr("   "),
		PrimaryColor: strPtr(" \t"),
		LogoURL:      strPtr("  "),
	})
	require.NoError(t, err)
	assert.Equal(t, "Squad1", view.Name)
	assert.Equal(t, "#111111", view.Branding.PrimaryColor)
	assert.Equal(t, "https://cdn.example.com/logo.png", view.Branding.LogoURL)
	got := mustFind(t, f, c.ID)
	assert.Equal(t, "Squad1", got.Name)

	view, err = f.svc.UpdateBranding(ctx, c.ID, alice, model.CommunityPatch{
		Name:         strPtr(" Squad2 "),
		PrimaryColor: strPtr(""),
		LogoURL:      strPtr(""),
	})
	require.NoError(t, err)
	assert.Equal(t, "Squad2", view.Name)
	assert.Equal(t, "desc", view.Description)
	assert.Equal(t, "#111111", view.Branding.PrimaryColor)
	assert.Equal(t, "https://cdn.example.com/logo.png", view.Branding.LogoURL)

	_, err = f.svc.UpdateBranding(ctx, c.ID, alice, model.CommunityPatch{PrimaryColor: strPtr(string(make([]byte, 64)))})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSetMemberRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bobby")
	c, err := f.svc.CreateCommunity(ctx, alice, "Squad1", "", model.Branding{})
	require.NoError(t, err)

	_, err = f.svc.SetMemberRole(ctx, c.ID, alice, bob, model.Role("captain"))
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.svc.SetMemberRole(ctx, c.ID, alice, 424242, model.RoleCiv)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.svc.SetMemberRole(ctx, c.ID, bob, bob, model.RoleAdmin)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	view, err := f.svc.SetMemberRole(ctx, c.ID, alice, bob, model.RoleFire)
	require.NoError(t, err)
	require.Len(t, view.Members, 2)
	assert.Equal(t, model.RoleFire, view.Members[1].Role)
	ids, err := f.users.CommunityIDs(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []uint64{c.ID}, ids)

	// alice 是唯一的 admin，不能降级
	_, err = f.svc.SetMemberRole(ctx, c.ID, alice, alice, model.RoleCiv)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.SetMemberRole(ctx, c.ID, alice, bob, model.RoleAdmin)
	require.NoError(t, err)
	view, err = f.svc.SetMemberRole(ctx, c.ID, bob, alice, model.RoleCiv)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bobby"}, usernames(*view))
	assert.Equal(t, model.RoleCiv, view.Members[0].Role)
	assert.Equal(t, model.RoleAdmin, view.Role)
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bobby")
	carol := f.signup(t, "carol")
	c, err := f.svc.CreateCommunity(ctx, alice, "Squad1", "", model.Branding{})
	require.NoError(t, err)
	for _, uid := range []uint64{bob, carol} {
		_, err = f.svc.SetMemberRole(ctx, c.ID, alice, uid, model.RoleCiv)
		require.NoError(t, err)
	}

	assert.ErrorIs(t, f.svc.RemoveMember(ctx, c.ID, bob, carol), errs.ErrForbidden)
	assert.ErrorIs(t, f.svc.RemoveMember(ctx, c.ID, alice, alice), errs.ErrValidation)
	assert.ErrorIs(t, f.svc.RemoveMember(ctx, c.ID, alice, 424242), errs.ErrNotFound)
	assert.ErrorIs(t, f.svc.RemoveMember(ctx, 1, alice, bob), errs.ErrNotFound)

	// 成员可以自己退出
	require.NoError(t, f.svc.RemoveMember(ctx, c.ID, bob, bob))
	require.NoError(t, f.svc.RemoveMember(ctx, c.ID, alice, carol))

	got := mustFind(t, f, c.ID)
	require.Len(t, got.Members, 1)
	assert.Equal(t, alice, got.Members[0].UserID)
	for _, uid := range []uint64{bob, carol} {
		ids, err := f.users.CommunityIDs(ctx, uid)
		require.NoError(t, err)
		assert.Empty(t, ids)
	}
}

func TestSyncMembershipIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	a, err := f.svc.CreateCommunity(ctx, alice, "A", "", model.Branding{})
	require.NoError(t, err)
	b, err := f.svc.CreateCommunity(ctx, alice, "B", "", model.Branding{})
	require.NoError(t, err)

	require.NoError(t, f.users.ReplaceCommunities(ctx, alice, []uint64{777}))

	changed, err := f.svc.SyncMembershipIndex(ctx, alice)
	require.NoError(t, err)
	assert.True(t, changed)
	ids, err := f.users.CommunityIDs(ctx, alice)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{a.ID, b.ID}, ids)

	changed, err = f.svc.SyncMembershipIndex(ctx, alice)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRoleOf(t *testing.T) {
	c := &model.Community{Members: []model.CommunityMember{
		{UserID: 1, Role: model.RoleAdmin},
		{UserID: 2, Role: model.RoleDispatch},
	}}
	assert.Equal(t, model.RoleAdmin, service.RoleOf(c, 1))
	assert.Equal(t, model.RoleDispatch, service.RoleOf(c, 2))
	assert.Equal(t, model.RoleNone, service.RoleOf(c, 3))
	assert.Equal(t, model.RoleNone, service.RoleOf(&model.Community{}, 1))
}

func mustFind(t *testing.T, f *fixture, id uint64) *model.Community {
	t.Helper()
	c, err := f.communities.FindByID(context.Background(), id)
	require.NoError(t, err)
	return c
}
