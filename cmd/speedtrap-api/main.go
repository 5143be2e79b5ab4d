package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speedtrap-service/internal/auth"
	"speedtrap-service/internal/config"
	"speedtrap-service/internal/db"
	httphandler "speedtrap-service/internal/http"
	"speedtrap-service/internal/http/middleware"
	"speedtrap-service/internal/jobs"
	"speedtrap-service/internal/logger"
	"speedtrap-service/internal/repository"
	"speedtrap-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateAPI()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	violationRepo := repository.NewViolationRepository(database)
	violationService := service.NewViolationService(violationRepo, appLogger)

	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	scheduler := jobs.NewScheduler(appLogger)
	retention := jobs.NewRetention(violationService, cfg.Retention.Days, appLogger)
	if err := scheduler.ScheduleRetention(jobsCtx, cfg.Retention.Schedule, retention); err != nil {
		appLogger.Fatal().Err(err).Msg("failed to schedule retention cleanup")
	}
	scheduler.Start()

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(violationService, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, database, appLogger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting speedtrap API")

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}

	cancelJobs()
	scheduler.Stop()

	appLogger.Info().Msg("server exited")
}
