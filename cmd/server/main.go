package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/driveport/api/internal/config"
	httpinfra "github.com/driveport/api/internal/infra/http"
	"github.com/driveport/api/internal/infra/http/handler"
	"github.com/driveport/api/internal/infra/http/middleware"
	"github.com/driveport/api/internal/infra/jobs"
	"github.com/driveport/api/internal/infra/postgres"
	"github.com/driveport/api/internal/infra/redis"
	"github.com/driveport/api/pkg/domain/accesscontrol"
	"github.com/driveport/api/pkg/domain/anomaly"
	"github.com/driveport/api/pkg/domain/audit"
	"github.com/driveport/api/pkg/jwt"
	"github.com/driveport/api/pkg/logger"
	"github.com/driveport/api/pkg/password"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	deps, err := buildDependencies(cfg, db, redisClient, log)
	if err != nil {
		log.Error("failed to wire dependencies", "error", err)
		return 1
	}
	defer closeWithLog(deps.JobClient, "job client", log)

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	router := httpinfra.NewRouter(httpinfra.RouterDeps{
		Config:        cfg,
		Log:           log,
		Auth:          deps.Authenticator,
		Guard:         deps.Guard,
		Health:        deps.Health,
		AuthHandler:   deps.Auth,
		Roles:         deps.Roles,
		RoutePerms:    deps.RoutePerms,
		Audit:         deps.Audit,
		Verifications: deps.Verifications,
	})

	server := httpinfra.NewServer(cfg, router, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

// Dependencies holds the wired middleware and handlers.
type Dependencies struct {
	Authenticator *middleware.Authenticator
	Guard         *middleware.Guard
	JobClient     *jobs.Client

	Health        *handler.HealthHandler
	Auth          *handler.AuthHandler
	Roles         *handler.RoleHandler
	RoutePerms    *handler.RoutePermissionHandler
	Audit         *handler.AuditHandler
	Verifications *handler.VerificationHandler
}

// buildDependencies wires repositories, stores, and domain services into the
// middleware and handler layer.
func buildDependencies(cfg *config.Config, db *postgres.DB, redisClient *redis.Client, log *logger.Logger) (*Dependencies, error) {
	// Repositories
	principalRepo := postgres.NewPrincipalRepository(db)
	roleRepo := postgres.NewRoleRepository(db)
	routePermRepo := postgres.NewRoutePermissionRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	// Tokens and credentials
	tokens := jwt.NewGenerator(jwt.TokenConfig{
		Secret:               cfg.Auth.JWTSecret,
		Issuer:               cfg.Auth.JWTIssuer,
		AccessTokenDuration:  cfg.Auth.AccessTokenDuration,
		RefreshTokenDuration: cfg.Auth.RefreshTokenDuration,
	})
	hasher := password.New(password.WithCost(cfg.Auth.BcryptCost))
	credentials := postgres.NewCredentialRepository(db, principalRepo, hasher)

	tokenStore, err := redis.NewTokenStore(redisClient, log)
	if err != nil {
		return nil, err
	}

	// Permission resolution
	permCache, err := redis.NewPermissionCache(redisClient, cfg.Auth.PermissionCacheTTL)
	if err != nil {
		return nil, err
	}
	resolver := accesscontrol.NewResolver(roleRepo, log,
		accesscontrol.WithSuperAdminRoles("super_admin"),
	)
	cachedResolver := accesscontrol.NewCachedResolver(resolver, permCache, log)
	routeResolver := accesscontrol.NewRouteRequirementResolver(routePermRepo, log)

	// Rate limiting
	counterStore, err := redis.NewCounterStore(redisClient, "ratelimit", log)
	if err != nil {
		return nil, err
	}
	limiter, err := redis.NewLimiter(counterStore, cfg.RateLimit.BlockLadder, cfg.RateLimit.ViolationWindow, log)
	if err != nil {
		return nil, err
	}

	// Background jobs
	jobClient := jobs.NewClient(&cfg.Redis, log)

	// Anomaly tracking
	var tracker *anomaly.Tracker
	if cfg.Anomaly.Enabled {
		fpStore, err := redis.NewFingerprintStore(redisClient, cfg.Anomaly.MaxFingerprints, cfg.Anomaly.FingerprintTTL, log)
		if err != nil {
			return nil, err
		}
		ipStore, err := redis.NewIPActivityStore(redisClient, cfg.Anomaly.IPWindow, log)
		if err != nil {
			return nil, err
		}
		tracker = anomaly.NewTracker(fpStore, ipStore, jobClient, anomaly.Config{
			MaxFingerprints:   cfg.Anomaly.MaxFingerprints,
			IPFanoutThreshold: cfg.Anomaly.IPFanoutThreshold,
		}, log)
	}

	// Audit sink. Writes happen off the request path; a sink failure is
	// logged, never surfaced to the caller.
	var auditSink audit.Sink = audit.NopSink{}
	if cfg.Audit.Enabled {
		auditSink = audit.NewAsyncSink(auditRepo, log)
	}

	guard := middleware.NewGuard(middleware.GuardDeps{
		Principals: principalRepo,
		Resolver:   cachedResolver,
		Routes:     routeResolver,
		Limiter:    limiter,
		Tracker:    tracker,
		Reverify:   tokenStore,
		Audit:      auditSink,
		Limits:     &cfg.RateLimit,
		SensitivePatterns: []string{
			"auth.otp.*",
			"admin.*",
			"verification.submit",
		},
		Log: log,
	})

	return &Dependencies{
		Authenticator: middleware.NewAuthenticator(tokens, tokenStore, log),
		Guard:         guard,
		JobClient:     jobClient,
		Health: handler.NewHealthHandler(
			handler.WithDatabase(db),
			handler.WithRedis(redisClient),
		),
		Auth: handler.NewAuthHandler(handler.AuthHandlerConfig{
			Verifier:   credentials,
			Tokens:     tokens,
			Store:      tokenStore,
			Hasher:     hasher,
			Sender:     jobClient,
			OTPLength:  cfg.Auth.OTPLength,
			OTPTTL:     cfg.Auth.OTPDuration,
			RefreshTTL: cfg.Auth.RefreshTokenDuration,
			Log:        log,
		}),
		Roles:         handler.NewRoleHandler(roleRepo, log),
		RoutePerms:    handler.NewRoutePermissionHandler(routePermRepo, log),
		Audit:         handler.NewAuditHandler(auditRepo, log),
		Verifications: handler.NewVerificationHandler(jobClient, log),
	}, nil
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
