package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveport/api/pkg/domain/shared"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Super Admin", "super_admin"},
		{"super_admin", "super_admin"},
		{"SUPER-ADMIN", "super_admin"},
		{"  Fleet   Manager  ", "fleet_manager"},
		{"driver", "driver"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", "", 0, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = New("driver", "", -1, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNegativeLevel)

	r, err := New("Fleet Manager", "manages vehicles", 30, nil, []string{"fleet:vehicles:read"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fleet_manager", r.Slug())
	assert.Equal(t, "Fleet Manager", r.Name())
	assert.Equal(t, 30, r.Level())
	assert.Equal(t, []string{"fleet:vehicles:read"}, r.Permissions())
}

func TestNew_CycleDetection(t *testing.T) {
	// parent -> grandparent -> nil
	grandparent, err := New("grandparent", "", 10, nil, nil, nil)
	require.NoError(t, err)
	gpID := grandparent.ID()

	parent, err := New("parent", "", 20, &gpID, nil, nil)
	require.NoError(t, err)
	parentID := parent.ID()

	parents := map[string]*shared.ID{
		parent.ID().String():      &gpID,
		grandparent.ID().String(): nil,
	}
	lookup := func(id shared.ID) (*shared.ID, error) {
		return parents[id.String()], nil
	}

	// A clean chain passes.
	_, err = New("child", "", 30, &parentID, nil, lookup)
	assert.NoError(t, err)

	// Rewire the grandparent to point at the parent: parent -> grandparent
	// -> parent. The new role's chain now contains a cycle.
	parents[grandparent.ID().String()] = &parentID
	_, err = New("child", "", 30, &parentID, nil, lookup)
	assert.ErrorIs(t, err, ErrParentCycle)
}

func TestRole_Matches(t *testing.T) {
	r, err := New("Super Admin", "", 100, nil, nil, nil)
	require.NoError(t, err)

	assert.True(t, r.Matches("super_admin"))
	assert.True(t, r.Matches("Super Admin"))
	assert.True(t, r.Matches("SUPER-ADMIN"))
	assert.False(t, r.Matches("admin"))
}
