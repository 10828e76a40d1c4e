package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Route directives declared next to route registrations:
//
//	permission:<name>            require a permission (or wildcard grant)
//	role:<a,b>                   require any of the named roles
//	rbac:level:<n>               require a minimum role level
//	rate_limit:<scope>:<max>:<windowMinutes>  attach a rate-limit scope
//
// Directives are parsed once at startup. A malformed directive does not drop
// the requirement: the route is registered deny-all so a typo can never
// silently widen access.
const (
	directivePermission = "permission"
	directiveRole       = "role"
	directiveRBAC       = "rbac"
	directiveRateLimit  = "rate_limit"
)

// ScopeRequirement is a rate-limit scope attached to a route. Max and Window
// override the configured scope quota when set by the directive.
type ScopeRequirement struct {
	Scope  string
	Max    int
	Window time.Duration
}

// RouteRule is the parsed requirement set for one route.
type RouteRule struct {
	// Permission required to access the route. Empty means none.
	Permission string

	// Roles is a set of role names; the principal needs any one of them.
	Roles []string

	// MinLevel is the minimum role level. Zero means no level requirement.
	MinLevel int

	// Scopes are the rate-limit scopes checked in declaration order.
	Scopes []ScopeRequirement

	// DenyAll marks the route as unconditionally denied due to a malformed
	// directive. ParseError carries the reason for logs.
	DenyAll    bool
	ParseError string
}

// ParseDirectives parses a route's directive strings into a rule. It never
// returns an error: malformed input yields a deny-all rule.
func ParseDirectives(directives ...string) RouteRule {
	var rule RouteRule

	for _, raw := range directives {
		d := strings.TrimSpace(raw)
		if d == "" {
			continue
		}

		parts := strings.Split(d, ":")
		switch parts[0] {
		case directivePermission:
			// Permission names themselves contain colons (admin:roles:read),
			// so everything after the directive keyword is the name.
			name := strings.Join(parts[1:], ":")
			if name == "" {
				return denyAll(d, "permission directive needs a name")
			}
			if rule.Permission != "" {
				return denyAll(d, "duplicate permission directive")
			}
			rule.Permission = name

		case directiveRole:
			if len(parts) != 2 || parts[1] == "" {
				return denyAll(d, "role directive needs a role list")
			}
			for _, name := range strings.Split(parts[1], ",") {
				name = strings.TrimSpace(name)
				if name == "" {
					return denyAll(d, "empty role name")
				}
				rule.Roles = append(rule.Roles, name)
			}

		case directiveRBAC:
			if len(parts) != 3 || parts[1] != "level" {
				return denyAll(d, "rbac directive must be rbac:level:<n>")
			}
			level, err := strconv.Atoi(parts[2])
			if err != nil || level < 1 {
				return denyAll(d, "rbac level must be a positive integer")
			}
			rule.MinLevel = level

		case directiveRateLimit:
			scope, err := parseRateLimitDirective(parts)
			if err != nil {
				return denyAll(d, err.Error())
			}
			rule.Scopes = append(rule.Scopes, scope)

		default:
			return denyAll(d, "unknown directive")
		}
	}

	return rule
}

func parseRateLimitDirective(parts []string) (ScopeRequirement, error) {
	// rate_limit:<scope> uses the configured quota;
	// rate_limit:<scope>:<max>:<windowMinutes> overrides it.
	switch len(parts) {
	case 2:
		if parts[1] == "" {
			return ScopeRequirement{}, fmt.Errorf("rate_limit directive needs a scope")
		}
		return ScopeRequirement{Scope: parts[1]}, nil
	case 4:
		if parts[1] == "" {
			return ScopeRequirement{}, fmt.Errorf("rate_limit directive needs a scope")
		}
		max, err := strconv.Atoi(parts[2])
		if err != nil || max < 1 {
			return ScopeRequirement{}, fmt.Errorf("rate_limit max must be a positive integer")
		}
		minutes, err := strconv.Atoi(parts[3])
		if err != nil || minutes < 1 {
			return ScopeRequirement{}, fmt.Errorf("rate_limit window must be positive minutes")
		}
		return ScopeRequirement{
			Scope:  parts[1],
			Max:    max,
			Window: time.Duration(minutes) * time.Minute,
		}, nil
	default:
		return ScopeRequirement{}, fmt.Errorf("rate_limit directive must be rate_limit:<scope>[:<max>:<windowMinutes>]")
	}
}

func denyAll(directive, reason string) RouteRule {
	return RouteRule{
		DenyAll:    true,
		ParseError: fmt.Sprintf("directive %q: %s", directive, reason),
	}
}

// RouteTable maps route names to their parsed rules. Built once during
// router construction and read-only afterwards.
type RouteTable struct {
	rules map[string]RouteRule
}

// NewRouteTable builds a table from route name to directive strings.
func NewRouteTable(routes map[string][]string) *RouteTable {
	rules := make(map[string]RouteRule, len(routes))
	for name, directives := range routes {
		rules[name] = ParseDirectives(directives...)
	}
	return &RouteTable{rules: rules}
}

// Rule returns the rule for a route name. Unregistered routes have no
// requirement beyond authentication.
func (t *RouteTable) Rule(name string) (RouteRule, bool) {
	rule, ok := t.rules[name]
	return rule, ok
}

// Routes returns the registered route names.
func (t *RouteTable) Routes() []string {
	names := make([]string, 0, len(t.rules))
	for name := range t.rules {
		names = append(names, name)
	}
	return names
}
