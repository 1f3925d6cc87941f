package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authflow/internal/config"
	"authflow/internal/db"
	"authflow/internal/email"
	apihttp "authflow/internal/http"
	"authflow/internal/repository"
	"authflow/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	pendingRedisGrace = 10 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	var (
		accounts    repository.AccountRepository
		healthCheck apihttp.HealthCheck
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if cfg.DBAutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				logger.Fatal("db migrate", zap.Error(err))
			}
		}
		accounts = repository.NewPgAccountRepository(pool)
		healthCheck = func(ctx context.Context) error { return db.Ping(ctx, pool) }
	} else {
		logger.Warn("DATABASE_URL not set, accounts are kept in memory")
		accounts = repository.NewMemoryAccountRepository()
	}

	var (
		pending     service.PendingStore = service.NewMemoryPendingStore()
		otpLimiter  service.OTPRateLimiter
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory pending store", zap.Error(err))
		} else {
			pending = service.NewRedisPendingStore(redisClient, pendingRedisGrace)
			otpLimiter = service.NewRedisOTPRateLimiter(redisClient, cfg.OTPRateLimitWindow, cfg.OTPRateLimitMax)
		}
		cancel()
	}
	if otpLimiter == nil {
		otpLimiter = service.NewOTPRateLimiter(cfg.OTPRateLimitWindow, cfg.OTPRateLimitMax)
	}

	emailSender := newEmailSender(cfg, logger)

	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)
	registrationSvc := service.NewRegistrationService(logger, accounts, pending, emailSender, otpLimiter,
		service.WithOTPTTL(cfg.OTPTTL),
		service.WithResendCooldown(cfg.OTPResendCooldown),
		service.WithSendTimeout(cfg.EmailSendTimeout),
		service.WithBcryptCost(cfg.BcryptCost),
	)
	authSvc := service.NewAuthService(logger, accounts, jwtSvc)
	sweeper := service.NewPendingSweeper(pending, cfg.PendingSweepInterval, logger)

	authHandler := apihttp.NewAuthHandler(logger, registrationSvc, authSvc)
	router := apihttp.NewRouter(logger, authHandler, jwtSvc, healthCheck)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newEmailSender(cfg *config.Config, logger *zap.Logger) email.Sender {
	if cfg.EmailLogOnly {
		logger.Warn("EMAIL_LOG_ONLY enabled, verification codes are written to the log")
		return email.NewLogSender(logger)
	}
	if cfg.SMTPHost == "" {
		logger.Warn("smtp not configured, registration emails will fail")
		return email.NewDisabledSender("email sender not configured")
	}
	sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
	if err != nil {
		logger.Warn("smtp sender init failed", zap.Error(err))
		return email.NewDisabledSender(err.Error())
	}
	return sender
}
