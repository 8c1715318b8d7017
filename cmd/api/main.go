package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/background"
	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/config"
	"github.com/BradenHooton/assetdesk/internal/database"
	"github.com/BradenHooton/assetdesk/internal/handlers"
	"github.com/BradenHooton/assetdesk/internal/metrics"
	middlewareCustom "github.com/BradenHooton/assetdesk/internal/middleware"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/ratelimit"
	"github.com/BradenHooton/assetdesk/internal/repositories"
	"github.com/BradenHooton/assetdesk/internal/routes"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkgauth "github.com/BradenHooton/assetdesk/pkg/auth"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var redisClient *redis.Client
	if cfg.Session.Store == "redis" || cfg.RateLimit.Store == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	clk := clock.Real{}
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	var m *metrics.Metrics
	if cfg.Server.MetricsEnabled {
		m = metrics.New()
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	lockoutRepo := repositories.NewAccountLockoutRepository(db)
	securityEventRepo := repositories.NewSecurityEventRepository(db)

	// Initialize security services
	events := services.NewSecurityEventService(logger, securityEventRepo, m, clk)

	lockoutConfig := services.DefaultLockoutConfig()
	lockoutConfig.MaxAttempts = cfg.Security.MaxLoginAttempts
	lockoutConfig.LockoutDuration = cfg.Security.LockoutDuration
	lockoutConfig.LookbackWindow = cfg.Security.LookbackWindow
	lockoutConfig.QueryTimeout = cfg.Database.StatementTimeout
	lockoutConfig.FailClosed = cfg.Security.LockoutFailClosed
	lockoutService := services.NewLockoutService(loginAttemptRepo, lockoutRepo, events, m, clk, lockoutConfig, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Security.TimingDelayBaseMs,
		RandomDelayMs: cfg.Security.TimingDelayRandomMs,
	})
	authService := services.NewAuthService(userRepo, lockoutService, timingDelay, m, logger)

	// Rate limit counters
	var limitStore ratelimit.Store
	var memoryLimits *ratelimit.MemoryStore
	if cfg.RateLimit.Store == "redis" {
		limitStore = ratelimit.NewRedisStore(redisClient)
	} else {
		memoryLimits = ratelimit.NewMemoryStore()
		limitStore = memoryLimits
		logger.Warn("rate limits are kept in memory and are not shared between instances")
	}
	defer limitStore.Close()

	rateLimiter := middlewareCustom.NewRateLimiter(
		ratelimit.NewLimiter(limitStore, clk),
		rateLimitPolicies(cfg.RateLimit),
		events, m, ipConfig,
	)
	lockoutService.SetLoginThrottle(rateLimiter)

	// Sessions
	var sessionStore auth.SessionStore
	var memorySessions *auth.MemorySessionStore
	if cfg.Session.Store == "redis" {
		sessionStore = auth.NewRedisSessionStore(redisClient, clk)
	} else {
		memorySessions = auth.NewMemorySessionStore(clk)
		sessionStore = memorySessions
	}
	defer sessionStore.Close()

	sessions := auth.NewSessionManager(
		sessionStore,
		auth.NewSessionCodec(cfg.Session.Secret, clk),
		clk,
		cfg.Session.TTL,
		auth.CookieConfig{
			Name:     cfg.Session.CookieName,
			Secure:   cfg.Server.IsProduction(),
			SameSite: "lax",
		},
	)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(lockoutService, securityEventRepo, m, clk, background.CleanupConfig{
		Interval:         cfg.Security.CleanupInterval,
		AttemptRetention: cfg.Security.AttemptRetention,
		EventRetention:   cfg.Security.EventRetention,
	}, logger)
	if memoryLimits != nil {
		cleanupManager.AddSweeper("rate_limit_windows", memoryLimits)
	}
	if memorySessions != nil {
		cleanupManager.AddSweeper("sessions", memorySessions)
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.FloodGuard(cfg.RateLimit.FloodGuardPerMinute, ipConfig))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:  handlers.NewAuthHandler(authService, sessions, ipConfig, logger),
		AdminHandler: handlers.NewAdminHandler(lockoutService, securityEventRepo, logger),
		CSPHandler:   handlers.NewCSPReportHandler(events, ipConfig),
		Health:       db,
		Sessions:     sessions,
		RateLimiter:  rateLimiter,
		Lockout:      lockoutService,
		Users:        userRepo,
		Events:       events,
		Metrics:      m,
		Clock:        clk,
		IPConfig:     ipConfig,
		CSRF: middlewareCustom.CSRFConfig{
			ExemptPaths: cfg.Server.CSRFExemptPaths,
			IPConfig:    ipConfig,
		},
		Logger: logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

func rateLimitPolicies(cfg config.RateLimitConfig) middlewareCustom.RateLimitPolicies {
	p := middlewareCustom.DefaultRateLimitPolicies()
	p.Login.Window, p.Login.Max = cfg.LoginWindow, cfg.LoginMax
	p.API.Window, p.API.Max = cfg.APIWindow, cfg.APIMax
	p.PasswordReset.Window, p.PasswordReset.Max = cfg.PasswordResetWindow, cfg.PasswordResetMax
	p.Register.Window, p.Register.Max = cfg.RegisterWindow, cfg.RegisterMax
	return p
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByIdentifier(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword, pkgauth.DefaultBcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	login := adminEmail
	if at := strings.IndexByte(adminEmail, '@'); at > 0 {
		login = adminEmail[:at]
	}

	_, err = userRepo.Create(ctx, &models.User{
		Email:        adminEmail,
		Login:        login,
		PasswordHash: hashedPassword,
		Role:         "admin",
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
