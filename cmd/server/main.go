package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/featureflags"
	"github.com/aryan0dhankhar/gatekeeper/internal/handler"
	"github.com/aryan0dhankhar/gatekeeper/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/gatekeeper/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/gatekeeper/internal/observability/metrics"
	"github.com/aryan0dhankhar/gatekeeper/internal/observability/tracing"
	"github.com/aryan0dhankhar/gatekeeper/internal/reliability/retry"
	"github.com/aryan0dhankhar/gatekeeper/internal/repository"
	"github.com/aryan0dhankhar/gatekeeper/internal/security"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/audit"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/auth"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/middleware"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/ratelimit"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/session"
	"github.com/aryan0dhankhar/gatekeeper/internal/service"
	"github.com/aryan0dhankhar/gatekeeper/internal/worker"
	"github.com/aryan0dhankhar/gatekeeper/pkg/config"
	"github.com/aryan0dhankhar/gatekeeper/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting gatekeeper server",
		slog.String("environment", cfg.Environment),
		slog.String("store_backend", cfg.StoreBackend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize tracing
	shutdownTracing, err := tracing.Init(ctx, log, "gatekeeper", cfg.Environment)
	if err != nil {
		log.Warn("tracing disabled", slog.String("error", err.Error()))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// 4. Connect to Postgres
	pool, err := retry.Do(ctx, retry.DefaultConfig(), log, "connect postgres", func(ctx context.Context) (*database.ConnectionPool, error) {
		return database.NewConnectionPool(ctx, &database.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Name,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, log)
	})
	if err != nil {
		log.Error("failed to connect to Postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Initialize session and lockout stores
	checks := map[string]handler.Pinger{"postgres": pool}
	var (
		sessionRepo   domain.SessionRepository
		rateLimitRepo domain.RateLimitRepository
		sweepables    = map[string]worker.Sweepable{}
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		memSessions := repository.NewMemorySessionRepository(time.Now)
		memLockouts := repository.NewMemoryRateLimitRepository(time.Now)
		sessionRepo, rateLimitRepo = memSessions, memLockouts
		sweepables["sessions"] = memSessions
		sweepables["ratelimit"] = memLockouts
		checks["redis"] = nil
		log.Warn("using in-memory session store; sessions do not survive restarts")
	default:
		redisClient, err := retry.Do(ctx, retry.DefaultConfig(), log, "connect redis", func(context.Context) (*redis.Client, error) {
			return redis.NewClient(cfg.RedisURL)
		})
		if err != nil {
			log.Error("failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisClient.Close()
		sessionRepo = repository.NewRedisSessionRepository(redisClient, log, time.Now)
		rateLimitRepo = repository.NewRedisRateLimitRepository(redisClient, log)
		checks["redis"] = redisClient
	}

	// 6. Initialize core components
	credentialRepo := repository.NewPostgresCredentialRepository(pool.DB(), log)
	permissionRepo := repository.NewPostgresPermissionRepository(pool.DB(), log)
	auditRepo := repository.NewPostgresAuditRepository(pool.DB())

	credentials := auth.NewCredentialStore(credentialRepo, cfg.BcryptCost)
	limiter := ratelimit.NewLimiter(rateLimitRepo, domain.LockoutPolicy{
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Duration:    cfg.Lockout.Duration,
	}, ratelimit.WithLogger(log))
	sessions := session.NewManager(sessionRepo,
		session.WithLogger(log),
		session.WithLifetime(cfg.Session.Lifetime),
		session.WithRotateInterval(cfg.Session.RotateInterval),
	)
	resolver := security.NewResolver(permissionRepo, log)
	emitter := audit.NewEmitter(auditRepo, log, audit.WithTimeout(cfg.AuditTimeout))

	authService := service.NewAuthService(credentials, credentialRepo, limiter, sessions, resolver, emitter, log)

	// 7. Initialize handlers
	cookies := middleware.NewSessionCookies(cfg.Session.CookieName, cfg.Session.CookieSecure)
	authHandler := handler.NewAuthHandler(authService, cookies, log)
	usersHandler := handler.NewUsersHandler(authService, log)
	healthHandler := handler.NewHealthHandler(checks, log)

	authenticated := middleware.Require(authService, cookies, service.Requirement{}, log)
	manageUsers := middleware.Require(authService, cookies, service.ManageUsers, log)

	loginHandler := http.Handler(http.HandlerFunc(authHandler.Login))
	var throttle *ratelimit.Throttle
	if featureflags.EnabledOr(featureflags.LoginThrottle, true) {
		throttle = ratelimit.NewThrottle(cfg.Throttle.RatePerSecond, cfg.Throttle.Burst)
		defer throttle.Stop()
		loginHandler = middleware.ThrottleMiddleware(throttle, log)(loginHandler)
	}

	// 8. Setup HTTP routes
	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/login", loginHandler)
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /api/auth/me", authHandler.Me)
	mux.Handle("GET /api/auth/permissions", authenticated(http.HandlerFunc(authHandler.Permissions)))
	mux.Handle("POST /api/auth/change-password", authenticated(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("PUT /api/users/{id}/role", manageUsers(http.HandlerFunc(usersHandler.UpdateRole)))
	mux.Handle("PUT /api/users/{id}/status", manageUsers(http.HandlerFunc(usersHandler.UpdateStatus)))
	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	// CORS middleware honoring configured origins; credentials are cookies
	handlerWithCORS := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if originAllowed(cfg.CORSAllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		mux.ServeHTTP(w, r)
	})

	// Chain middleware: tracing -> metrics -> request context -> access log -> path/body checks -> CORS
	rootHandler := otelhttp.NewHandler(
		metrics.HTTPMetricsMiddleware(
			middleware.RequestContext(cfg.TrustProxyHeaders)(
				withAccessLog(
					middleware.RejectSuspiciousPaths(log)(
						middleware.ValidateJSONContentType(log)(handlerWithCORS),
					),
					log,
				),
			),
		),
		"gatekeeper",
	)

	// 9. Start sweeper for in-memory stores
	if len(sweepables) > 0 && featureflags.EnabledOr(featureflags.Sweeper, true) {
		sweeper := worker.NewSweeper(sweepables, log, cfg.SweepInterval)
		go sweeper.Start(ctx)
	}

	// 10. Start HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           rootHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.Duration("session_lifetime", sessions.Lifetime()),
		slog.Int("lockout_max_attempts", cfg.Lockout.MaxAttempts),
		slog.Duration("lockout_duration", cfg.Lockout.Duration),
		slog.Bool("login_throttle", throttle != nil),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			sigChan <- syscall.SIGTERM
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // Stop sweeper
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

// withAccessLog logs one line per request with the id set by RequestContext
func withAccessLog(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		log.Info("request completed",
			slog.String("request_id", audit.RequestInfoFrom(r.Context()).RequestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration_ms", time.Since(start)),
		)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}
