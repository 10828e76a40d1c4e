package accesscontrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveport/api/pkg/domain/principal"
	"github.com/driveport/api/pkg/domain/role"
	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/logger"
)

type fakeRoleSource struct {
	roles map[string]*role.Role
	err   error
	calls int
}

func (f *fakeRoleSource) GetByID(_ context.Context, id shared.ID) (*role.Role, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.roles[id.String()]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return r, nil
}

func (f *fakeRoleSource) add(r *role.Role) {
	if f.roles == nil {
		f.roles = make(map[string]*role.Role)
	}
	f.roles[r.ID().String()] = r
}

func makeRole(t *testing.T, name string, level int, parentID *shared.ID, perms ...string) *role.Role {
	t.Helper()
	r, err := role.New(name, "", level, parentID, perms, nil)
	require.NoError(t, err)
	return r
}

func makePrincipal(t *testing.T, roles []*role.Role, direct ...string) *principal.Principal {
	t.Helper()
	p, err := principal.New(principal.KindAdmin, roles, direct)
	require.NoError(t, err)
	return p
}

func TestResolver_ResolvePermissions_InheritsParentChain(t *testing.T) {
	source := &fakeRoleSource{}

	grandparent := makeRole(t, "viewer", 10, nil, "reports:read")
	source.add(grandparent)
	gpID := grandparent.ID()

	parent := makeRole(t, "dispatcher", 20, &gpID, "drivers:read")
	source.add(parent)
	pID := parent.ID()

	child := makeRole(t, "fleet manager", 30, &pID, "drivers:write", "fleet:vehicles:assign")
	source.add(child)

	resolver := NewResolver(source, logger.NewNop())
	p := makePrincipal(t, []*role.Role{child}, "companies:read")

	perms, err := resolver.ResolvePermissions(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"companies:read",
		"drivers:read",
		"drivers:write",
		"fleet:vehicles:assign",
		"reports:read",
	}, perms, "union of direct permissions and the full ancestor chain, sorted")
}

func TestResolver_ResolvePermissions_Deduplicates(t *testing.T) {
	source := &fakeRoleSource{}

	parent := makeRole(t, "base", 10, nil, "drivers:read")
	source.add(parent)
	pID := parent.ID()

	child := makeRole(t, "extended", 20, &pID, "drivers:read", "drivers:write")
	source.add(child)

	resolver := NewResolver(source, logger.NewNop())
	p := makePrincipal(t, []*role.Role{child}, "drivers:read")

	perms, err := resolver.ResolvePermissions(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"drivers:read", "drivers:write"}, perms)
}

func TestResolver_ResolvePermissions_CycleTerminates(t *testing.T) {
	// Build a corrupted parent chain directly: a -> b -> a. Creation-time
	// validation would reject this, so it can only come from bad stored data.
	aID := shared.NewID()
	bID := shared.NewID()
	now := time.Now()

	a := role.Reconstruct(aID, "role_a", "Role A", "", 10, &bID, []string{"perm:a"}, now, now)
	b := role.Reconstruct(bID, "role_b", "Role B", "", 10, &aID, []string{"perm:b"}, now, now)

	source := &fakeRoleSource{}
	source.add(a)
	source.add(b)

	resolver := NewResolver(source, logger.NewNop())
	p := makePrincipal(t, []*role.Role{a})

	perms, err := resolver.ResolvePermissions(context.Background(), p)
	require.NoError(t, err, "a stored cycle must terminate, not error")
	assert.Equal(t, []string{"perm:a", "perm:b"}, perms, "permissions gathered before the cycle are kept")
}

func TestResolver_ResolvePermissions_DepthCap(t *testing.T) {
	source := &fakeRoleSource{}

	// Chain longer than the configured cap.
	var parentID *shared.ID
	var chain []*role.Role
	for i := 0; i < 6; i++ {
		r := makeRole(t, "level "+string(rune('a'+i)), i, parentID, "perm:"+string(rune('a'+i)))
		source.add(r)
		id := r.ID()
		parentID = &id
		chain = append(chain, r)
	}

	resolver := NewResolver(source, logger.NewNop(), WithMaxDepth(3))
	p := makePrincipal(t, []*role.Role{chain[len(chain)-1]})

	perms, err := resolver.ResolvePermissions(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, perms, 3, "the walk stops at the depth cap")
}

func TestResolver_ResolvePermissions_StoreFailure(t *testing.T) {
	parent := makeRole(t, "base", 10, nil, "drivers:read")
	pID := parent.ID()
	child := makeRole(t, "extended", 20, &pID, "drivers:write")

	source := &fakeRoleSource{err: errors.New("connection refused")}
	resolver := NewResolver(source, logger.NewNop())
	p := makePrincipal(t, []*role.Role{child})

	_, err := resolver.ResolvePermissions(context.Background(), p)
	assert.Error(t, err, "a store failure propagates so callers deny")
}

func TestResolver_HasPermission(t *testing.T) {
	source := &fakeRoleSource{}
	driver := makeRole(t, "driver", 10, nil, "drivers:documents:read")
	source.add(driver)
	super := makeRole(t, "Super Admin", 100, nil)
	source.add(super)
	wildcarded := makeRole(t, "root", 90, nil, "*")
	source.add(wildcarded)

	resolver := NewResolver(source, logger.NewNop())

	inactive := principal.Reconstruct(
		shared.NewID(), principal.KindDriver, principal.StatusInactive,
		[]*role.Role{driver}, nil, time.Now(),
	)

	tests := []struct {
		name       string
		principal  *principal.Principal
		perm       string
		granted    bool
		wantReason Reason
	}{
		{
			name:       "exact permission granted",
			principal:  makePrincipal(t, []*role.Role{driver}),
			perm:       "drivers:documents:read",
			granted:    true,
			wantReason: ReasonGranted,
		},
		{
			name:       "missing permission denied",
			principal:  makePrincipal(t, []*role.Role{driver}),
			perm:       "drivers:delete",
			granted:    false,
			wantReason: ReasonMissingPermission,
		},
		{
			name:       "wildcard grants everything",
			principal:  makePrincipal(t, []*role.Role{wildcarded}),
			perm:       "drivers:delete",
			granted:    true,
			wantReason: ReasonGranted,
		},
		{
			name:       "super admin bypasses",
			principal:  makePrincipal(t, []*role.Role{super}),
			perm:       "anything:at:all",
			granted:    true,
			wantReason: ReasonSuperAdmin,
		},
		{
			name:       "inactive principal denied before resolution",
			principal:  inactive,
			perm:       "drivers:documents:read",
			granted:    false,
			wantReason: ReasonInactivePrincipal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := resolver.HasPermission(context.Background(), tt.principal, tt.perm)
			assert.Equal(t, tt.granted, decision.Granted)
			assert.Equal(t, tt.wantReason, decision.Reason)
		})
	}
}

func TestResolver_HasPermission_FailsClosed(t *testing.T) {
	parent := makeRole(t, "base", 10, nil, "drivers:read")
	pID := parent.ID()
	child := makeRole(t, "extended", 20, &pID)

	source := &fakeRoleSource{err: errors.New("store down")}
	resolver := NewResolver(source, logger.NewNop())
	p := makePrincipal(t, []*role.Role{child})

	decision := resolver.HasPermission(context.Background(), p, "drivers:read")
	assert.False(t, decision.Granted)
	assert.Equal(t, ReasonResolutionFailure, decision.Reason)
}

func TestResolver_RoleChecks(t *testing.T) {
	source := &fakeRoleSource{}
	resolver := NewResolver(source, logger.NewNop())

	dispatcher := makeRole(t, "Dispatcher", 20, nil)
	p := makePrincipal(t, []*role.Role{dispatcher})

	assert.True(t, resolver.HasRole(p, "dispatcher"), "names normalize before comparison")
	assert.True(t, resolver.HasRole(p, "DISPATCHER"))
	assert.False(t, resolver.HasRole(p, "admin"))
	assert.True(t, resolver.HasAnyRole(p, "admin", "dispatcher"))
	assert.False(t, resolver.HasAnyRole(p, "admin", "viewer"))
}

func TestResolver_MeetsLevel(t *testing.T) {
	source := &fakeRoleSource{}
	resolver := NewResolver(source, logger.NewNop())

	mid := makeRole(t, "manager", 50, nil)
	super := makeRole(t, "super admin", 0, nil)

	assert.True(t, resolver.MeetsLevel(makePrincipal(t, []*role.Role{mid}), 50))
	assert.True(t, resolver.MeetsLevel(makePrincipal(t, []*role.Role{mid}), 30))
	assert.False(t, resolver.MeetsLevel(makePrincipal(t, []*role.Role{mid}), 51))
	assert.True(t, resolver.MeetsLevel(makePrincipal(t, []*role.Role{super}), 99),
		"super admin meets any level regardless of its own")
}

func TestResolver_CustomSuperAdminRoles(t *testing.T) {
	source := &fakeRoleSource{}
	resolver := NewResolver(source, logger.NewNop(), WithSuperAdminRoles("Platform Owner"))

	owner := makeRole(t, "platform owner", 10, nil)
	defaultSuper := makeRole(t, "super admin", 100, nil)

	assert.True(t, resolver.IsSuperAdmin(makePrincipal(t, []*role.Role{owner})))
	assert.False(t, resolver.IsSuperAdmin(makePrincipal(t, []*role.Role{defaultSuper})),
		"configuring super-admin roles replaces the default set")
}
