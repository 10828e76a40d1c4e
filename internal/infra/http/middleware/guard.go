package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/driveport/api/internal/config"
	"github.com/driveport/api/internal/infra/redis"
	"github.com/driveport/api/internal/metrics"
	"github.com/driveport/api/pkg/apierror"
	"github.com/driveport/api/pkg/domain/accesscontrol"
	"github.com/driveport/api/pkg/domain/anomaly"
	"github.com/driveport/api/pkg/domain/audit"
	"github.com/driveport/api/pkg/domain/principal"
	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/logger"
)

// storeCallTimeout bounds individual Redis calls made by the guard so a slow
// store cannot hold requests open.
const storeCallTimeout = 2 * time.Second

// ReverificationStore marks principals whose next sensitive action requires
// an OTP challenge. The Redis token store implements it.
type ReverificationStore interface {
	NeedsReverification(ctx context.Context, principalID string) (bool, error)
	MarkForReverification(ctx context.Context, principalID string, ttl time.Duration) error
}

// Guard evaluates route rules: permission, role, level, and rate-limit
// requirements, plus advisory anomaly tracking. Each step short-circuits on
// the first deny. Every deny and every access to a sensitive route emits an
// audit record.
type Guard struct {
	principals principal.Repository
	resolver   *accesscontrol.CachedResolver
	routes     *accesscontrol.RouteRequirementResolver
	limiter    redis.RateLimiter
	tracker    *anomaly.Tracker
	reverify   ReverificationStore
	audit      audit.Sink
	limits     *config.RateLimitConfig
	table      *RouteTable
	sensitive  []string
	log        *logger.Logger

	reverifyTTL time.Duration
}

// GuardDeps wires the guard's collaborators. Principals, Tracker, and
// Reverify may be nil; the corresponding steps are skipped (principals fall
// back to token claims).
type GuardDeps struct {
	Principals principal.Repository
	Resolver   *accesscontrol.CachedResolver
	Routes     *accesscontrol.RouteRequirementResolver
	Limiter    redis.RateLimiter
	Tracker    *anomaly.Tracker
	Reverify   ReverificationStore
	Audit      audit.Sink
	Limits     *config.RateLimitConfig

	// SensitivePatterns are route-name patterns whose every access is
	// audited and which require an OTP challenge while the principal is
	// marked for re-verification. A trailing * matches a prefix.
	SensitivePatterns []string

	// ReverifyTTL is how long a re-verification mark lasts.
	// Default: 24 hours.
	ReverifyTTL time.Duration

	Log *logger.Logger
}

// NewGuard creates a guard. Resolver, Limiter, Audit, Limits, and Log are
// required.
func NewGuard(deps GuardDeps) *Guard {
	if deps.Audit == nil {
		deps.Audit = audit.NopSink{}
	}
	if deps.ReverifyTTL <= 0 {
		deps.ReverifyTTL = 24 * time.Hour
	}
	return &Guard{
		principals:  deps.Principals,
		resolver:    deps.Resolver,
		routes:      deps.Routes,
		limiter:     deps.Limiter,
		tracker:     deps.Tracker,
		reverify:    deps.Reverify,
		audit:       deps.Audit,
		limits:      deps.Limits,
		table:       &RouteTable{rules: make(map[string]RouteRule)},
		sensitive:   deps.SensitivePatterns,
		log:         deps.Log,
		reverifyTTL: deps.ReverifyTTL,
	}
}

// Table returns the route table accumulated by Protect calls, for admin
// introspection.
func (g *Guard) Table() *RouteTable {
	return g.table
}

// Protect parses the route's directives and returns the enforcement
// middleware. Directives are parsed once, at registration; a malformed
// directive registers the route deny-all.
func (g *Guard) Protect(routeName string, directives ...string) func(http.Handler) http.Handler {
	rule := ParseDirectives(directives...)
	g.table.rules[routeName] = rule

	if rule.DenyAll {
		g.log.Error("route registered deny-all due to malformed directive",
			"route", routeName,
			"reason", rule.ParseError,
		)
	}

	sensitive := g.isSensitive(routeName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, routeName, rule, sensitive, next)
		})
	}
}

// PublicLimits enforces only the rate-limit scopes of a route, keyed by
// client IP, for endpoints that run before authentication (login, refresh).
// Permission or role directives on a public route are a misconfiguration and
// register the route deny-all.
func (g *Guard) PublicLimits(routeName string, directives ...string) func(http.Handler) http.Handler {
	rule := ParseDirectives(directives...)
	if !rule.DenyAll && (rule.Permission != "" || len(rule.Roles) > 0 || rule.MinLevel > 0) {
		rule = denyAll(strings.Join(directives, " "), "public route cannot carry permission requirements")
	}
	g.table.rules[routeName] = rule

	if rule.DenyAll {
		g.log.Error("route registered deny-all due to malformed directive",
			"route", routeName,
			"reason", rule.ParseError,
		)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rule.DenyAll {
				g.deny(w, r, routeName, apierror.ConfigurationError(""), "malformed_route_directive")
				return
			}

			hooks, apiErr := g.checkRateLimits(r.Context(), w, r, routeName, rule)
			if apiErr != nil {
				g.deny(w, r, routeName, apiErr, "rate_limited")
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if rw.Status() >= http.StatusBadRequest {
				for _, hook := range hooks {
					hook()
				}
			}
		})
	}
}

func (g *Guard) serve(w http.ResponseWriter, r *http.Request, routeName string, rule RouteRule, sensitive bool, next http.Handler) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)

	if rule.DenyAll {
		g.deny(w, r, routeName, apierror.ConfigurationError(""), "malformed_route_directive")
		return
	}

	p, apiErr := g.loadPrincipal(ctx)
	if apiErr != nil {
		g.deny(w, r, routeName, apiErr, string(accesscontrol.ReasonResolutionFailure))
		return
	}

	if decision, apiErr := g.checkAccess(ctx, r, routeName, rule, p); apiErr != nil {
		g.deny(w, r, routeName, apiErr, string(decision.Reason))
		return
	}

	hooks, apiErr := g.checkRateLimits(ctx, w, r, routeName, rule)
	if apiErr != nil {
		g.deny(w, r, routeName, apiErr, "rate_limited")
		return
	}

	if sensitive {
		if apiErr := g.checkReverification(ctx, principalID); apiErr != nil {
			g.deny(w, r, routeName, apiErr, "reverification_required")
			return
		}
		g.writeAudit(r, routeName, audit.ActionAccess, audit.OutcomeGranted, "sensitive_route")
	}

	g.observeAnomalies(r, routeName, principalID)

	// Attach the principal and its resolved abilities for handlers.
	ctx = context.WithValue(ctx, PrincipalKey, p)
	if g.resolver != nil {
		if abilities, err := g.resolver.ResolvePermissions(ctx, p); err == nil {
			ctx = context.WithValue(ctx, AbilitiesKey, abilities)
		}
	}

	rw := newResponseWriter(w)
	next.ServeHTTP(rw, r.WithContext(ctx))

	if rw.Status() >= http.StatusBadRequest {
		for _, hook := range hooks {
			hook()
		}
	}
}

// loadPrincipal fetches the principal with roles and direct permissions.
// Without a repository, identity degrades to the token's legacy claims.
// Lookup failures deny: a principal we cannot resolve gets no access.
func (g *Guard) loadPrincipal(ctx context.Context) (*principal.Principal, *apierror.Error) {
	claims := GetClaims(ctx)
	if claims == nil {
		return nil, apierror.AuthRequired()
	}

	id, err := shared.IDFromString(claims.PrincipalID)
	if err != nil {
		return nil, apierror.TokenInvalid()
	}

	if g.principals == nil {
		return principal.FromLegacy(id, principal.Kind(claims.Kind), claims.Role, claims.Permissions), nil
	}

	p, err := g.principals.GetByID(ctx, id)
	if err != nil {
		g.log.Error("principal resolution failed",
			"error", err,
			"principal_id", claims.PrincipalID,
		)
		metrics.AuthzDecisionsTotal.WithLabelValues("denied", string(accesscontrol.ReasonResolutionFailure)).Inc()
		return nil, apierror.InsufficientPermission()
	}
	return p, nil
}

// checkAccess evaluates permission, role, and level requirements. Super
// admins bypass the checks; the bypass is still audited.
func (g *Guard) checkAccess(ctx context.Context, r *http.Request, routeName string, rule RouteRule, p *principal.Principal) (accesscontrol.Decision, *apierror.Error) {
	required := rule.Permission

	// Dynamic route mappings only fill the gap for routes without a static
	// directive; a declared requirement is never overridden at runtime.
	if required == "" && g.routes != nil {
		perm, found, err := g.routes.Resolve(ctx, routeName)
		if err != nil {
			// Fail closed: an unreadable mapping must not widen access.
			return accesscontrol.Decision{Reason: accesscontrol.ReasonResolutionFailure},
				apierror.InsufficientPermission()
		}
		if found {
			required = perm
		}
	}

	if g.resolver.IsSuperAdmin(p) {
		metrics.SuperAdminBypassTotal.Inc()
		g.writeAudit(r, routeName, audit.ActionSuperAdminBypass, audit.OutcomeGranted, "")
		return accesscontrol.Decision{Granted: true, Reason: accesscontrol.ReasonSuperAdmin}, nil
	}

	if required != "" {
		decision := g.resolver.HasPermission(ctx, p, required)
		metrics.AuthzDecisionsTotal.WithLabelValues(outcomeLabel(decision.Granted), string(decision.Reason)).Inc()
		if !decision.Granted {
			return decision, apierror.InsufficientPermission()
		}
	}

	if len(rule.Roles) > 0 && !g.resolver.HasAnyRole(p, rule.Roles...) {
		metrics.AuthzDecisionsTotal.WithLabelValues("denied", "missing_role").Inc()
		return accesscontrol.Decision{Reason: "missing_role"}, apierror.InsufficientPermission()
	}

	if rule.MinLevel > 0 && !g.resolver.MeetsLevel(p, rule.MinLevel) {
		metrics.AuthzDecisionsTotal.WithLabelValues("denied", "insufficient_level").Inc()
		return accesscontrol.Decision{Reason: "insufficient_level"}, apierror.InsufficientPermission()
	}

	return accesscontrol.Decision{Granted: true, Reason: accesscontrol.ReasonGranted}, nil
}

// checkRateLimits evaluates each scope on the route in declaration order.
// The first denying scope wins. Failure-counting scopes do not consume quota
// up front; they return a hook that records the attempt when the downstream
// response is an error.
func (g *Guard) checkRateLimits(ctx context.Context, w http.ResponseWriter, r *http.Request, routeName string, rule RouteRule) ([]func(), *apierror.Error) {
	if g.limiter == nil || len(rule.Scopes) == 0 {
		return nil, nil
	}

	identity := identityFor(r)
	var hooks []func()

	for _, req := range rule.Scopes {
		limit := g.quotaFor(req)
		key := rateLimitKey(req.Scope, identity, routeFor(limit.CountMode, routeName))

		callCtx, cancel := withDeadline(ctx, storeCallTimeout)
		var (
			result *redis.Result
			err    error
		)
		if limit.CountMode == config.CountFailures {
			result, err = g.limiter.Check(callCtx, key, limit.Max)
		} else {
			result, err = g.limiter.Hit(callCtx, key, limit.Max, limit.Window)
		}
		cancel()

		if err != nil {
			// The limiter exists to protect credentials and capacity.
			// An unreachable store denies rather than waving traffic through.
			g.log.Error("rate limit evaluation failed",
				"error", err,
				"scope", req.Scope,
				"key", key,
			)
			metrics.RateLimitDeniedTotal.WithLabelValues(req.Scope, "error").Inc()
			return nil, apierror.RateLimited(retryAfterSeconds(limit.Window))
		}

		setRateHeaders(w, result)

		if !result.Allowed {
			retry := retryAfterSeconds(result.RetryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			metrics.RateLimitDeniedTotal.WithLabelValues(req.Scope, string(result.State)).Inc()

			if result.State == redis.StateBlocked {
				g.writeAudit(r, routeName, audit.ActionProgressiveBlock, audit.OutcomeDenied, req.Scope)
				return nil, apierror.Blocked(retry)
			}
			g.writeAudit(r, routeName, audit.ActionRateLimitExceed, audit.OutcomeDenied, req.Scope)
			return nil, apierror.RateLimited(retry)
		}

		if limit.CountMode == config.CountFailures {
			scope := req
			max := limit.Max
			window := limit.Window
			hooks = append(hooks, func() {
				hookCtx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
				defer cancel()
				if _, err := g.limiter.RecordFailure(hookCtx, key, max, window); err != nil {
					g.log.Warn("failure count not recorded",
						"error", err,
						"scope", scope.Scope,
					)
				}
			})
		}
	}

	return hooks, nil
}

// quotaFor resolves the effective quota: a directive override wins, else the
// configured scope, else the default.
func (g *Guard) quotaFor(req ScopeRequirement) config.ScopeLimit {
	limit := g.limits.ScopeFor(req.Scope)
	if req.Max > 0 {
		limit.Max = req.Max
	}
	if req.Window > 0 {
		limit.Window = req.Window
	}
	return limit
}

// routeFor includes the route in the limiter key for traffic scopes so one
// endpoint's burst cannot exhaust another's quota. Failure-counting scopes
// track the identity across routes.
func routeFor(mode config.CountMode, routeName string) string {
	if mode == config.CountFailures {
		return ""
	}
	return routeName
}

// checkReverification denies sensitive-route access while the principal is
// marked for an OTP challenge. Store errors deny.
func (g *Guard) checkReverification(ctx context.Context, principalID string) *apierror.Error {
	if g.reverify == nil || principalID == "" {
		return nil
	}

	callCtx, cancel := withDeadline(ctx, storeCallTimeout)
	defer cancel()

	needed, err := g.reverify.NeedsReverification(callCtx, principalID)
	if err != nil {
		g.log.Error("reverification check failed", "error", err)
		return apierror.New(http.StatusUnauthorized, apierror.CodeAuthRequired, "Identity verification required")
	}
	if needed {
		return apierror.New(http.StatusUnauthorized, apierror.CodeAuthRequired, "Identity verification required")
	}
	return nil
}

// observeAnomalies records device and IP signals. Suspicious activity marks
// the principal for re-verification and is audited, but never denies the
// current request.
func (g *Guard) observeAnomalies(r *http.Request, routeName, principalID string) {
	if g.tracker == nil || principalID == "" {
		return
	}

	ip := ClientIP(r)
	hints := map[string]string{}
	for _, h := range []string{"Sec-CH-UA", "Sec-CH-UA-Platform", "Sec-CH-UA-Mobile"} {
		if v := r.Header.Get(h); v != "" {
			hints[h] = v
		}
	}
	fp := anomaly.Fingerprint(anomaly.Signals{
		IP:             ip,
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		ClientHints:    hints,
	})

	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()

	suspicious := g.tracker.RecordAndCheck(ctx, principalID, fp)
	if g.tracker.TrackIPFanout(ctx, ip, principalID) {
		suspicious = true
	}

	if !suspicious {
		return
	}

	g.writeAudit(r, routeName, audit.ActionSuspiciousDevice, audit.OutcomeGranted, "anomaly_detected")
	if g.reverify != nil {
		if err := g.reverify.MarkForReverification(ctx, principalID, g.reverifyTTL); err != nil {
			g.log.Warn("reverification mark failed", "error", err, "principal_id", principalID)
		}
	}
}

// deny writes the error response and audits the denial.
func (g *Guard) deny(w http.ResponseWriter, r *http.Request, routeName string, apiErr *apierror.Error, reason string) {
	action := audit.ActionPermissionCheck
	switch apiErr.Code {
	case apierror.CodeRateLimited:
		action = audit.ActionRateLimitExceed
	case apierror.CodeBlocked:
		action = audit.ActionProgressiveBlock
	case apierror.CodeAuthRequired, apierror.CodeTokenExpired, apierror.CodeTokenInvalid:
		action = audit.ActionLogin
	}
	g.writeAuditWithReason(r, routeName, action, audit.OutcomeDenied, reason)

	apiErr.WriteJSONWithRequestID(w, GetRequestID(r.Context()))
}

func (g *Guard) isSensitive(routeName string) bool {
	for _, pattern := range g.sensitive {
		if pattern == routeName {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(routeName, prefix) {
			return true
		}
	}
	return false
}

// writeAudit emits an audit record. The sink is asynchronous and
// best-effort; a write failure never affects the request.
func (g *Guard) writeAudit(r *http.Request, routeName string, action audit.Action, outcome audit.Outcome, detail string) {
	g.writeAuditWithReason(r, routeName, action, outcome, detail)
}

func (g *Guard) writeAuditWithReason(r *http.Request, routeName string, action audit.Action, outcome audit.Outcome, reason string) {
	record := audit.NewRecord(action, routeName, outcome).
		WithMetadata(audit.Metadata{
			IP:        ClientIP(r),
			UserAgent: r.Header.Get("User-Agent"),
			Route:     routeName,
			Method:    r.Method,
			RequestID: GetRequestID(r.Context()),
		})
	if reason != "" {
		record = record.WithReason(reason)
	}
	if pid := GetPrincipalID(r.Context()); pid != "" {
		if id, err := shared.IDFromString(pid); err == nil {
			record = record.WithPrincipal(id)
		}
	}

	if err := g.audit.Write(r.Context(), record); err != nil {
		g.log.Warn("audit write failed", "error", err)
	}
	metrics.AuditWritesTotal.WithLabelValues("submitted").Inc()
}

func outcomeLabel(granted bool) string {
	if granted {
		return "granted"
	}
	return "denied"
}
