package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"authcore.dev/internal/audit"
	"authcore.dev/internal/auth"
	"authcore.dev/internal/config"
	"authcore.dev/internal/grpcauth"
	"authcore.dev/internal/httpapi"
	"authcore.dev/internal/obs"
	"authcore.dev/internal/store/memory"
	"authcore.dev/internal/store/pg"
	"authcore.dev/internal/store/redisstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("config: %v", err)
	}

	logger := obs.NewLogger(cfg.LogLevel, os.Stdout).With("service", "authcore", "version", version)
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("authcore stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("authcore stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ready := httpapi.ReadyProbe{}

	var store auth.Store
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		store = pgStore
		ready.DB = pgStore.DB()
	} else {
		logger.Warn("AUTHCORE_PG_DSN not set, using in-memory store")
		store = memory.New()
	}

	tokens, err := newTokenIssuer(cfg)
	if err != nil {
		return err
	}

	opts := []auth.ServiceOption{
		auth.WithLogger(logger.With("component", "auth")),
		auth.WithObserver(obs.AuthMetrics{}),
		auth.WithAuditor(audit.LogEvent),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithChallengeTTL(cfg.ChallengeTTL),
		auth.WithStoreTimeout(cfg.StoreTimeout),
		auth.WithBackupCodeCount(cfg.BackupCodeCount),
	}
	if cfg.TOTPSealKey != "" {
		engine, err := newTwoFactorEngine(cfg)
		if err != nil {
			return err
		}
		opts = append(opts, auth.WithTwoFactorEngine(engine))
	} else {
		logger.Warn("AUTHCORE_TOTP_SEAL_KEY not set, two-factor enrolment disabled and enrolled users cannot sign in")
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		opts = append(opts, auth.WithChallengeStore(redisstore.New(rdb)))
		ready.Extra = append(ready.Extra, httpapi.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	svc, err := auth.NewService(store, tokens, opts...)
	if err != nil {
		return err
	}

	if cfg.BootstrapEmail != "" {
		created, err := svc.EnsureSuperAdmin(ctx, cfg.BootstrapEmail, cfg.BootstrapPassword)
		if err != nil {
			return err
		}
		if created {
			logger.Info("bootstrap superAdmin created", slog.String("email", cfg.BootstrapEmail))
		}
	}

	api := httpapi.New(svc,
		httpapi.WithLogger(logger),
		httpapi.WithReadyProbe(ready),
		httpapi.WithVersion(version),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithLoginRateLimit(cfg.LoginRatePerMinute, cfg.LoginRateBurst),
	)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	interceptor := grpcauth.New(svc, grpcauth.WithLogger(logger.With("component", "grpc")))
	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptor.Unary()),
		grpc.ChainStreamInterceptor(interceptor.Stream()),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", slog.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	return runErr
}

func newTokenIssuer(cfg config.Config) (*auth.TokenIssuer, error) {
	alg := auth.Algorithm(strings.ToUpper(cfg.JWTAlgorithm))
	if alg == "EDDSA" {
		alg = auth.AlgorithmEdDSA
	}
	return auth.NewTokenIssuer(auth.TokenConfig{
		Algorithm:     alg,
		HMACSecret:    []byte(cfg.JWTSecret),
		PrivateKeyPEM: cfg.JWTPrivateKeyPEM,
		PublicKeyPEM:  cfg.JWTPublicKeyPEM,
		KeyID:         cfg.JWTKeyID,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		Leeway:        cfg.JWTLeeway,
	})
}

func newTwoFactorEngine(cfg config.Config) (*auth.TwoFactorEngine, error) {
	key, err := cfg.SealKey()
	if err != nil {
		return nil, err
	}
	sealer, err := auth.NewAESGCMSealer(key)
	if err != nil {
		return nil, err
	}
	return auth.NewTwoFactorEngine(cfg.TOTPIssuer, cfg.TOTPDigits, sealer)
}
