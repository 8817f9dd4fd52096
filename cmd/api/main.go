package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hassanwm/vigil/internal/auth"
	"github.com/hassanwm/vigil/internal/background"
	"github.com/hassanwm/vigil/internal/cache"
	"github.com/hassanwm/vigil/internal/config"
	"github.com/hassanwm/vigil/internal/database"
	"github.com/hassanwm/vigil/internal/handlers"
	middlewareCustom "github.com/hassanwm/vigil/internal/middleware"
	"github.com/hassanwm/vigil/internal/repositories"
	"github.com/hassanwm/vigil/internal/routes"
	"github.com/hassanwm/vigil/internal/services"
	pkghttp "github.com/hassanwm/vigil/pkg/http"
	pkglogger "github.com/hassanwm/vigil/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize Redis
	redisClient, err := cache.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	otpDeviceRepo := repositories.NewOTPDeviceRepository(db, cfg.OTP.MaxFailedAttempts, cfg.OTP.CooldownFactor)
	trustedDeviceRepo := repositories.NewTrustedDeviceRepository(db)
	blockedIPRepo := repositories.NewBlockedIPRepository(db)

	// Initialize crypto components
	otpCipher, err := auth.NewOTPCipher(cfg.OTP.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize otp cipher", slog.Any("error", err))
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(cfg.Email.Region, cfg.Email.Sender, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	otpService := services.NewOTPService(otpDeviceRepo, otpCipher, cfg.OTP, logger)
	ipBlockService := services.NewIPBlockService(blockedIPRepo, redisClient, cfg.IPBlock, logger, auditLogger)
	trustedDeviceService := services.NewTrustedDeviceService(trustedDeviceRepo, cfg.TrustedDevice, logger)

	dispatcher := background.NewOTPDispatcher(emailService, cfg.Email.QueueSize, cfg.Email.Retries, logger)

	loginService := services.NewLoginService(
		userRepo,
		ipBlockService,
		otpService,
		trustedDeviceService,
		dispatcher,
		tokenManager,
		cfg.Server.Env,
		logger,
		auditLogger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieConfig := auth.CookieConfig{
		Name:     cfg.TrustedDevice.CookieName,
		Secure:   cfg.Server.Env == "production",
		SameSite: "lax",
	}
	authHandler := handlers.NewAuthHandler(loginService, ipConfig, cookieConfig, cfg.TrustedDevice.TTL)

	// Background workers
	cleanupManager := background.NewCleanupManager(trustedDeviceService, logger, cfg.TrustedDevice.CleanupInterval)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler)

	// Health check with database and cache
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		if err := redisClient.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","cache":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up","cache":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go dispatcher.Start(workerCtx)
	go cleanupManager.Start(workerCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Drain queued code deliveries before exiting.
	dispatcher.Stop()
	cleanupManager.Stop()
	workerCancel()

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
