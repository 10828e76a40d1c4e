package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name       string
		directives []string
		want       RouteRule
	}{
		{
			name: "empty input has no requirements",
			want: RouteRule{},
		},
		{
			name:       "blank directives are skipped",
			directives: []string{"", "  "},
			want:       RouteRule{},
		},
		{
			name:       "permission with colons in the name",
			directives: []string{"permission:admin:roles:read"},
			want:       RouteRule{Permission: "admin:roles:read"},
		},
		{
			name:       "role list",
			directives: []string{"role:fleet_manager, dispatcher"},
			want:       RouteRule{Roles: []string{"fleet_manager", "dispatcher"}},
		},
		{
			name:       "rbac level",
			directives: []string{"rbac:level:50"},
			want:       RouteRule{MinLevel: 50},
		},
		{
			name:       "rate limit with configured quota",
			directives: []string{"rate_limit:login"},
			want:       RouteRule{Scopes: []ScopeRequirement{{Scope: "login"}}},
		},
		{
			name:       "rate limit with inline quota",
			directives: []string{"rate_limit:otp:5:15"},
			want: RouteRule{Scopes: []ScopeRequirement{
				{Scope: "otp", Max: 5, Window: 15 * time.Minute},
			}},
		},
		{
			name: "combined directives",
			directives: []string{
				"permission:drivers:verify",
				"rbac:level:10",
				"rate_limit:verification",
				"rate_limit:api:100:1",
			},
			want: RouteRule{
				Permission: "drivers:verify",
				MinLevel:   10,
				Scopes: []ScopeRequirement{
					{Scope: "verification"},
					{Scope: "api", Max: 100, Window: time.Minute},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDirectives(tt.directives...)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDirectives_MalformedDeniesAll(t *testing.T) {
	tests := []struct {
		name       string
		directives []string
	}{
		{"unknown keyword", []string{"permit:drivers:read"}},
		{"permission without name", []string{"permission:"}},
		{"duplicate permission", []string{"permission:audit:read", "permission:drivers:read"}},
		{"role without list", []string{"role:"}},
		{"empty role in list", []string{"role:admin,,driver"}},
		{"rbac wrong shape", []string{"rbac:min:10"}},
		{"rbac non-numeric level", []string{"rbac:level:high"}},
		{"rbac zero level", []string{"rbac:level:0"}},
		{"rate limit without scope", []string{"rate_limit:"}},
		{"rate limit three parts", []string{"rate_limit:login:5"}},
		{"rate limit bad max", []string{"rate_limit:login:none:15"}},
		{"rate limit zero window", []string{"rate_limit:login:5:0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := ParseDirectives(tt.directives...)
			assert.True(t, rule.DenyAll, "malformed input must never widen access")
			assert.NotEmpty(t, rule.ParseError)
		})
	}
}

func TestRouteTable(t *testing.T) {
	table := NewRouteTable(map[string][]string{
		"auth.login":  {"rate_limit:login"},
		"admin.roles": {"permission:admin:roles:read", "rbac:level:80"},
		"broken":      {"nonsense"},
	})

	rule, ok := table.Rule("auth.login")
	require.True(t, ok)
	assert.Equal(t, []ScopeRequirement{{Scope: "login"}}, rule.Scopes)

	rule, ok = table.Rule("admin.roles")
	require.True(t, ok)
	assert.Equal(t, "admin:roles:read", rule.Permission)
	assert.Equal(t, 80, rule.MinLevel)

	rule, ok = table.Rule("broken")
	require.True(t, ok)
	assert.True(t, rule.DenyAll)

	_, ok = table.Rule("unregistered")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"auth.login", "admin.roles", "broken"}, table.Routes())
}
