package accesscontrol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/logger"
)

func TestNewRoutePermission(t *testing.T) {
	tests := []struct {
		name      string
		routeName string
		perm      string
		wantErr   bool
	}{
		{"valid", "admin.roles.list", "admin:roles:read", false},
		{"trims whitespace", "  admin.roles.list  ", " admin:roles:read ", false},
		{"empty route", "", "admin:roles:read", true},
		{"empty permission", "admin.roles.list", "", true},
		{"whitespace only permission", "admin.roles.list", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp, err := NewRoutePermission(tt.routeName, tt.perm)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "admin.roles.list", rp.RouteName())
			assert.Equal(t, "admin:roles:read", rp.RequiredPermission())
			assert.True(t, rp.IsActive())
		})
	}
}

func TestRoutePermission_DeactivateActivate(t *testing.T) {
	rp, err := NewRoutePermission("verification.submit", "drivers:verify")
	require.NoError(t, err)

	rp.Deactivate()
	assert.False(t, rp.IsActive())

	rp.Activate()
	assert.True(t, rp.IsActive())
}

type fakeRoutePermRepo struct {
	byRoute map[string]*RoutePermission
	err     error
}

func (f *fakeRoutePermRepo) GetActiveByRoute(_ context.Context, routeName string) (*RoutePermission, error) {
	if f.err != nil {
		return nil, f.err
	}
	rp, ok := f.byRoute[routeName]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return rp, nil
}

func (f *fakeRoutePermRepo) Create(context.Context, *RoutePermission) error { return nil }
func (f *fakeRoutePermRepo) Update(context.Context, *RoutePermission) error { return nil }
func (f *fakeRoutePermRepo) List(context.Context) ([]*RoutePermission, error) {
	return nil, nil
}

func TestRouteRequirementResolver_Resolve(t *testing.T) {
	mapped, err := NewRoutePermission("admin.audit.list", "audit:read")
	require.NoError(t, err)

	repo := &fakeRoutePermRepo{byRoute: map[string]*RoutePermission{
		"admin.audit.list": mapped,
	}}
	resolver := NewRouteRequirementResolver(repo, logger.NewNop())

	perm, found, err := resolver.Resolve(context.Background(), "admin.audit.list")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "audit:read", perm)

	perm, found, err = resolver.Resolve(context.Background(), "unmapped.route")
	require.NoError(t, err)
	assert.False(t, found, "absence of a mapping is not an error")
	assert.Empty(t, perm)
}

func TestRouteRequirementResolver_StoreFailurePropagates(t *testing.T) {
	repo := &fakeRoutePermRepo{err: errors.New("connection refused")}
	resolver := NewRouteRequirementResolver(repo, logger.NewNop())

	_, _, err := resolver.Resolve(context.Background(), "admin.audit.list")
	assert.Error(t, err, "callers must see the failure so they can deny")
}
