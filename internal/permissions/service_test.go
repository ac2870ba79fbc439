package permissions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helixdesk/helixdesk/internal/audit"
)

type fakeRepo struct {
	permissions map[string]Permission
	roles       map[string]RoleTemplate
	roleKeys    map[int64][]string
	users       map[int64]User
	overrides   map[int64]map[int64]Override

	fetchUserCalls int
	fetchRoleCalls int
	replaceCalls   int
	replaceErr     error
	upsertErr      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		permissions: make(map[string]Permission),
		roles:       make(map[string]RoleTemplate),
		roleKeys:    make(map[int64][]string),
		users:       make(map[int64]User),
		overrides:   make(map[int64]map[int64]Override),
	}
}

func (f *fakeRepo) addPermission(id int64, key string) {
	f.permissions[key] = Permission{ID: id, Key: key}
}

func (f *fakeRepo) addRole(id int64, name string, system bool, keys ...string) {
	f.roles[name] = RoleTemplate{ID: id, Name: name, IsSystem: system}
	f.roleKeys[id] = keys
}

func (f *fakeRepo) addUser(id int64, role string, active bool) {
	f.users[id] = User{ID: id, Email: "user@helixdesk.local", RoleName: role, IsActive: active}
}

func (f *fakeRepo) FetchPermission(_ context.Context, key string) (Permission, error) {
	p, ok := f.permissions[key]
	if !ok {
		return Permission{}, ErrPermissionNotFound
	}
	return p, nil
}

func (f *fakeRepo) FetchRole(_ context.Context, name string) (RoleTemplate, error) {
	f.fetchRoleCalls++
	role, ok := f.roles[name]
	if !ok {
		return RoleTemplate{}, ErrRoleNotFound
	}
	return role, nil
}

func (f *fakeRepo) FetchRolePermissionKeys(_ context.Context, roleID int64) ([]string, error) {
	return append([]string(nil), f.roleKeys[roleID]...), nil
}

func (f *fakeRepo) ReplaceRolePermissions(_ context.Context, roleID int64, keys []string) ([]string, []string, error) {
	f.replaceCalls++
	if f.replaceErr != nil {
		return nil, nil, f.replaceErr
	}
	previous := append([]string(nil), f.roleKeys[roleID]...)
	applied := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := f.permissions[key]; ok {
			applied = append(applied, key)
		}
	}
	f.roleKeys[roleID] = applied
	return previous, append([]string(nil), applied...), nil
}

func (f *fakeRepo) FetchUser(_ context.Context, userID int64) (User, error) {
	f.fetchUserCalls++
	user, ok := f.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepo) FetchUserOverrides(_ context.Context, userID int64) ([]Override, error) {
	var out []Override
	for _, ov := range f.overrides[userID] {
		out = append(out, ov)
	}
	return out, nil
}

func (f *fakeRepo) UpsertUserOverride(_ context.Context, ov Override) (*Override, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	if _, ok := f.users[ov.UserID]; !ok {
		return nil, ErrUserNotFound
	}
	byPerm := f.overrides[ov.UserID]
	if byPerm == nil {
		byPerm = make(map[int64]Override)
		f.overrides[ov.UserID] = byPerm
	}
	var previous *Override
	if existing, ok := byPerm[ov.PermissionID]; ok {
		prior := existing
		previous = &prior
	}
	byPerm[ov.PermissionID] = ov
	return previous, nil
}

func (f *fakeRepo) DeleteUserOverrides(_ context.Context, userID int64) (int64, error) {
	removed := int64(len(f.overrides[userID]))
	delete(f.overrides, userID)
	return removed, nil
}

type fakeAudit struct {
	entries []audit.Entry
	err     error
}

func (f *fakeAudit) Record(_ context.Context, entry audit.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type engineFixture struct {
	repo   *fakeRepo
	cache  *MemoryCache
	audits *fakeAudit
	svc    *Service
	now    time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		repo:   newFakeRepo(),
		audits: &fakeAudit{},
		now:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return fx.now }
	fx.cache = NewMemoryCache(DefaultTTLs(), clock)
	fx.svc = NewService(fx.repo, fx.cache, fx.audits, nil, clock)
	return fx
}

func (fx *engineFixture) seedHelpdesk() {
	fx.repo.addPermission(1, "tickets.view")
	fx.repo.addPermission(2, "tickets.edit")
	fx.repo.addPermission(3, "tickets.delete")
	fx.repo.addPermission(4, "kb.view")
	fx.repo.addRole(10, "engineer", false, "tickets.view", "tickets.edit", "kb.view")
	fx.repo.addRole(11, "viewer", false, "tickets.view", "kb.view")
	fx.repo.addRole(12, ProtectedRoleName, true, "tickets.view", "tickets.edit", "tickets.delete", "kb.view")
	fx.repo.addUser(100, "engineer", true)
}

func TestResolveRoleDefaultsOnly(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()

	keys, err := fx.svc.Resolve(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, []string{"kb.view", "tickets.edit", "tickets.view"}, keys)
}

func TestResolveUnknownUserDeniesWithoutError(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()

	keys, err := fx.svc.Resolve(context.Background(), 999)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestResolveInactiveUserDeniesWithoutError(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	fx.repo.addUser(101, "engineer", false)

	keys, err := fx.svc.Resolve(context.Background(), 101)
	require.NoError(t, err)
	require.Empty(t, keys)

	ok, err := fx.svc.HasPermission(context.Background(), 101, "tickets.view")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetRolePermissionsUnknownRoleEmpty(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()

	keys, err := fx.svc.GetRolePermissions(context.Background(), "ghost")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestReplaceRolePermissionsExactSet(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	applied, err := fx.svc.ReplaceRolePermissions(ctx, "viewer", []string{"tickets.view", "tickets.delete"}, 1, "widen viewer")
	require.NoError(t, err)
	require.Equal(t, []string{"tickets.view", "tickets.delete"}, applied)

	keys, err := fx.svc.GetRolePermissions(ctx, "viewer")
	require.NoError(t, err)
	require.Equal(t, []string{"tickets.delete", "tickets.view"}, keys)
}

func TestReplaceRolePermissionsDropsUnknownKeys(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()

	applied, err := fx.svc.ReplaceRolePermissions(context.Background(), "viewer",
		[]string{"tickets.view", "made.up", "tickets.view"}, 1, "")
	require.NoError(t, err)
	require.Equal(t, []string{"tickets.view"}, applied)
}

func TestReplaceRolePermissionsProtectedRole(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	_, err := fx.svc.ReplaceRolePermissions(ctx, "SuperAdmin", []string{"tickets.view"}, 1, "")
	require.ErrorIs(t, err, ErrProtectedRole)
	require.Zero(t, fx.repo.replaceCalls)
	require.Empty(t, fx.audits.entries)

	// System-flagged roles are rejected even under a different name.
	fx.repo.addRole(13, "root", true, "tickets.view")
	_, err = fx.svc.ReplaceRolePermissions(ctx, "root", []string{"tickets.view"}, 1, "")
	require.ErrorIs(t, err, ErrProtectedRole)
	require.Zero(t, fx.repo.replaceCalls)
}

func TestReplaceRolePermissionsUnknownRole(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()

	_, err := fx.svc.ReplaceRolePermissions(context.Background(), "ghost", []string{"tickets.view"}, 1, "")
	require.ErrorIs(t, err, ErrRoleNotFound)
}

func TestReplaceRolePermissionsAudited(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()

	_, err := fx.svc.ReplaceRolePermissions(context.Background(), "viewer", []string{"tickets.edit"}, 42, "narrow viewer")
	require.NoError(t, err)
	require.Len(t, fx.audits.entries, 1)

	entry := fx.audits.entries[0]
	require.Equal(t, audit.ActionRoleUpdate, entry.ActionType)
	require.Equal(t, audit.TargetRole, entry.TargetType)
	require.Equal(t, "viewer", entry.TargetID)
	require.JSONEq(t, `["kb.view","tickets.view"]`, entry.OldValue)
	require.JSONEq(t, `["tickets.edit"]`, entry.NewValue)
	require.EqualValues(t, 42, entry.PerformedBy)
	require.Equal(t, "narrow viewer", entry.Reason)
}

func TestGrantExtendsRoleDefaults(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	require.NoError(t, fx.svc.Grant(ctx, GrantInput{UserID: 100, Key: "tickets.delete", GrantedBy: 1, Reason: "escalation duty"}))

	keys, err := fx.svc.Resolve(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, []string{"kb.view", "tickets.delete", "tickets.edit", "tickets.view"}, keys)
}

func TestRevokeWinsOverRoleDefault(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	require.NoError(t, fx.svc.Revoke(ctx, RevokeInput{UserID: 100, Key: "tickets.edit", RevokedBy: 1, Reason: "incident freeze"}))

	ok, err := fx.svc.HasPermission(ctx, 100, "tickets.edit")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = fx.svc.HasPermission(ctx, 100, "tickets.view")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOverrideLastWriteWins(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	require.NoError(t, fx.svc.Grant(ctx, GrantInput{UserID: 100, Key: "tickets.delete", GrantedBy: 1}))
	require.NoError(t, fx.svc.Revoke(ctx, RevokeInput{UserID: 100, Key: "tickets.delete", RevokedBy: 2}))

	// One row per (user, permission) pair; the revoke replaced the grant.
	require.Len(t, fx.repo.overrides[100], 1)

	ok, err := fx.svc.HasPermission(ctx, 100, "tickets.delete")
	require.NoError(t, err)
	require.False(t, ok)

	// The second audit entry records the prior direction it replaced.
	require.Len(t, fx.audits.entries, 2)
	require.Equal(t, "granted", fx.audits.entries[1].OldValue)
	require.Equal(t, "revoked", fx.audits.entries[1].NewValue)
}

func TestGrantUnknownPermission(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()

	err := fx.svc.Grant(context.Background(), GrantInput{UserID: 100, Key: "no.such.key", GrantedBy: 1})
	require.ErrorIs(t, err, ErrPermissionNotFound)
	require.Empty(t, fx.audits.entries)
}

func TestExpiredGrantExcludedFromResolution(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	expires := fx.now.Add(time.Hour)
	require.NoError(t, fx.svc.Grant(ctx, GrantInput{UserID: 100, Key: "tickets.delete", GrantedBy: 1, ExpiresAt: &expires}))

	ok, err := fx.svc.HasPermission(ctx, 100, "tickets.delete")
	require.NoError(t, err)
	require.True(t, ok)

	// Past the expiry instant the grant no longer contributes, but the row
	// still shows up in the override listing.
	fx.now = fx.now.Add(2 * time.Hour)
	ok, err = fx.svc.HasPermission(ctx, 100, "tickets.delete")
	require.NoError(t, err)
	require.False(t, ok)

	granted, revoked, err := fx.svc.ListOverrides(ctx, 100)
	require.NoError(t, err)
	require.Len(t, granted, 1)
	require.Empty(t, revoked)
	require.Equal(t, "tickets.delete", granted[0].PermissionKey)
}

func TestResolveUsesCacheUntilInvalidated(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	_, err := fx.svc.Resolve(ctx, 100)
	require.NoError(t, err)
	_, err = fx.svc.Resolve(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, fx.repo.fetchUserCalls)

	require.NoError(t, fx.svc.Grant(ctx, GrantInput{UserID: 100, Key: "tickets.delete", GrantedBy: 1}))

	keys, err := fx.svc.Resolve(ctx, 100)
	require.NoError(t, err)
	require.Contains(t, keys, "tickets.delete")
	require.Equal(t, 2, fx.repo.fetchUserCalls)
}

func TestRoleReplaceInvalidatesUserDecisions(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	ok, err := fx.svc.HasPermission(ctx, 100, "tickets.edit")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = fx.svc.ReplaceRolePermissions(ctx, "engineer", []string{"tickets.view"}, 1, "")
	require.NoError(t, err)

	ok, err = fx.svc.HasPermission(ctx, 100, "tickets.edit")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClearOverridesRestoresRoleDefaults(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	require.NoError(t, fx.svc.Grant(ctx, GrantInput{UserID: 100, Key: "tickets.delete", GrantedBy: 1}))
	require.NoError(t, fx.svc.Revoke(ctx, RevokeInput{UserID: 100, Key: "kb.view", RevokedBy: 1}))

	require.NoError(t, fx.svc.ClearOverrides(ctx, 100, 1, "offboarding review"))

	keys, err := fx.svc.Resolve(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, []string{"kb.view", "tickets.edit", "tickets.view"}, keys)
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	fx.audits.err = errors.New("audit store down")
	ctx := context.Background()

	require.NoError(t, fx.svc.Grant(ctx, GrantInput{UserID: 100, Key: "tickets.delete", GrantedBy: 1}))

	// The write and the invalidation still happened.
	ok, err := fx.svc.HasPermission(ctx, 100, "tickets.delete")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGrantAuditCarriesPermissionKey(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()

	require.NoError(t, fx.svc.Grant(context.Background(), GrantInput{UserID: 100, Key: "tickets.delete", GrantedBy: 7, Reason: "on-call"}))
	require.Len(t, fx.audits.entries, 1)

	entry := fx.audits.entries[0]
	require.Equal(t, audit.ActionGrant, entry.ActionType)
	require.Equal(t, audit.TargetUser, entry.TargetType)
	require.Equal(t, "100", entry.TargetID)
	require.NotNil(t, entry.PermissionKey)
	require.Equal(t, "tickets.delete", *entry.PermissionKey)
	require.Equal(t, "", entry.OldValue)
	require.Equal(t, "granted", entry.NewValue)
}

func TestHasAnyAndHasAll(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedHelpdesk()
	ctx := context.Background()

	ok, err := fx.svc.HasAny(ctx, 100, "tickets.delete", "kb.view")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = fx.svc.HasAll(ctx, 100, "tickets.view", "tickets.edit")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = fx.svc.HasAll(ctx, 100, "tickets.view", "tickets.delete")
	require.NoError(t, err)
	require.False(t, ok)
}
