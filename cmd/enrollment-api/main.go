package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/openshs/enrollment-api/internal/handler"
	"github.com/openshs/enrollment-api/internal/repository"
	"github.com/openshs/enrollment-api/internal/service"
	"github.com/openshs/enrollment-api/pkg/cache"
	"github.com/openshs/enrollment-api/pkg/config"
	"github.com/openshs/enrollment-api/pkg/database"
	"github.com/openshs/enrollment-api/pkg/jobs"
	"github.com/openshs/enrollment-api/pkg/logger"
	"github.com/openshs/enrollment-api/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	store, err := storage.NewDocumentStore(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	identityRepo := repository.NewIdentityRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	sessionRepo := repository.NewSessionRepository(redisClient)
	auditRepo := repository.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, logr, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
	})
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	metricsSvc := service.NewMetricsService()
	sessionSvc := service.NewSessionService(sessionRepo, identityRepo, auditSvc, logr, cfg.Session)
	authSvc := service.NewAuthService(identityRepo, sessionSvc, auditSvc, metricsSvc, nil, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, auditSvc, metricsSvc, nil, logr)
	exportSvc := service.NewExportService(enrollmentRepo, logr, nil, nil)

	router := handler.NewRouter(handler.RouterDeps{
		Config:     cfg,
		Logger:     logr,
		Sessions:   sessionSvc,
		Metrics:    metricsSvc,
		Auth:       handler.NewAuthHandler(authSvc),
		Enrollment: handler.NewEnrollmentHandler(enrollmentSvc, exportSvc, store, signer, cfg.Uploads.MaxFileSizeBytes),
		Admin:      handler.NewAdminHandler(authSvc, sessionSvc),
		Readiness: func() error {
			if err := db.Ping(); err != nil {
				return err
			}
			return redisClient.Ping(context.Background()).Err()
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
