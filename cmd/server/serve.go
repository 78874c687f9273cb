package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"examportal/internal/audit"
	"examportal/internal/auth"
	"examportal/internal/config"
	"examportal/internal/db"
	"examportal/internal/exams"
	examgrpc "examportal/internal/grpc"
	internalhttp "examportal/internal/http"
	"examportal/internal/jobs"
	"examportal/internal/metrics"
	"examportal/internal/requests"
	"examportal/internal/settings"
	"examportal/internal/users"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg, logger, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving (postgres only)")
	return cmd
}

func serve(cfg config.Config, logger *slog.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, settings will be empty", slog.Any("error", err))
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	recorder := audit.NewRecorder(store, logger)
	examService := exams.NewService(store, exams.Config{
		QuestionCount:   cfg.ExamQuestionCount,
		RetentionWindow: cfg.RetentionWindow,
		HistoryLimit:    cfg.HistoryLimit,
		Grace:           cfg.SessionGrace,
	}, m, logger)

	server := internalhttp.NewServer(internalhttp.Deps{
		Store:         store,
		Authenticator: auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, store),
		Requests:      requests.NewService(store, recorder, m, logger, cfg.DefaultAccessDays),
		Exams:         examService,
		Users:         users.NewService(store, recorder, m, cfg.HistoryLimit),
		Settings:      settings.NewReader(redisClient, cfg.SettingsKey),
		Metrics:       m,
		Logger:        logger,
	})

	grpcServer, healthServer, err := examgrpc.NewServer(cfg.ServiceAuthToken)
	if err != nil {
		return fmt.Errorf("grpc init failed: %w", err)
	}
	examgrpc.ReportHealth(ctx, healthServer, store, 15*time.Second, logger)
	jobs.StartSessionSweepJob(ctx, cfg, examService, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen error: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", slog.String("addr", cfg.HTTPAddr), slog.String("storage", cfg.StorageType))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc listening", slog.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, migrate bool) (db.Store, func(), error) {
	if cfg.StorageType == config.StorageTypeMemory {
		return db.NewMemoryStore(), func() {}, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connection failed: %w", err)
	}
	if migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return db.NewStore(pool), pool.Close, nil
}
