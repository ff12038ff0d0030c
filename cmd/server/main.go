package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/crypto/bcrypt"

	echoapi "github.com/keygate-dev/keygate/api/echo"
	"github.com/keygate-dev/keygate/cache"
	cacheredis "github.com/keygate-dev/keygate/cache/redis"
	"github.com/keygate-dev/keygate/config"
	"github.com/keygate-dev/keygate/internal/audit"
	"github.com/keygate-dev/keygate/internal/auth"
	"github.com/keygate-dev/keygate/internal/metrics"
	"github.com/keygate-dev/keygate/internal/server"
	"github.com/keygate-dev/keygate/log"
	"github.com/keygate-dev/keygate/mongodb"
	"github.com/keygate-dev/keygate/services"
	"github.com/keygate-dev/keygate/tracing"
)

var (
	appLogger      log.Logger
	httpServer     *http.Server
	tracerProvider *sdktrace.TracerProvider
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger = log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	if err := cfg.Validate(); err != nil {
		appLogger.Fatal(ctx, "Invalid configuration", err, nil)
	}
	appLogger.Info(ctx, "Starting keygate server", map[string]interface{}{
		"http_port":     cfg.HTTPPort,
		"mongo_db_name": cfg.MongoDBName,
		"cache_backend": cfg.CacheBackend,
		"log_level":     cfg.LogLevel,
	})

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err, nil)
	}
	tracerProvider = tp

	mongoClient, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to connect to MongoDB", err, nil)
	}

	// Repositories
	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize UserRepository", err, nil)
	}
	tokenRepo, err := mongodb.NewRefreshTokenRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize RefreshTokenRepository", err, nil)
	}
	eventRepo, err := mongodb.NewEventRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize EventRepository", err, nil)
	}
	clientRepo := mongodb.NewClientRepository(db)

	// Refresh-token cache
	var tokenCache cache.TokenStore
	switch cfg.CacheBackend {
	case "redis":
		tokenCache = cacheredis.NewTokenStore(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		tokenCache = cache.NewMemoryTokenStore()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	// Services
	passwordHasher := auth.NewBcryptPasswordHasher(bcrypt.DefaultCost)
	auditLog := audit.NewRecorder(eventRepo)

	signer := services.NewTokenSigner()
	signer.AddKeySigner(cfg.JWTSigningKey)

	tokenService := services.NewTokenService(tokenRepo, tokenCache, signer, cfg.TokenIssuer,
		time.Duration(cfg.AccessTokenTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLHour)*time.Hour,
	)
	lockoutGuard := services.NewLockoutGuard(userRepo, auditLog,
		cfg.LockoutThreshold,
		time.Duration(cfg.LockoutDurationMin)*time.Minute,
	)
	twoFactorService := services.NewTwoFactorService(userRepo, auditLog, cfg.TOTPIssuer)
	authService := services.NewAuthService(userRepo, clientRepo, tokenService, passwordHasher, lockoutGuard, twoFactorService, auditLog)

	authAPI := echoapi.NewAuthAPI(authService, tokenService, twoFactorService, lockoutGuard)
	httpServer = server.NewHTTPServer(cfg, appLogger, authAPI, registry, mongoClient)

	go func() {
		appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(ctx, "HTTP server failed", err, nil)
		}
	}()

	// Expired refresh-token cleanup.
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if n, err := tokenService.DeleteExpired(cleanupCtx); err != nil {
					appLogger.Warn(cleanupCtx, "Expired token cleanup failed", map[string]interface{}{"error": err.Error()})
				} else if n > 0 {
					appLogger.Info(cleanupCtx, "Deleted expired refresh tokens", map[string]interface{}{"count": n})
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info(ctx, "Shutting down", nil)
	cancelCleanup()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown failed", err, nil)
	}
	if err := tokenCache.Close(); err != nil {
		appLogger.Error(shutdownCtx, "Token cache shutdown failed", err, nil)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown failed", err, nil)
	}
	mongodb.Close(shutdownCtx, mongoClient)
	appLogger.Info(ctx, "Shutdown complete", nil)
}
