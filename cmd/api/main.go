package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"phonereset/internal/config"
	"phonereset/internal/db"
	"phonereset/internal/db/migrations"
	"phonereset/internal/logger"
	"phonereset/internal/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log := logger.New(cfg.LogLevel, cfg.Environment, os.Stdout)
	log.WithFields(logrus.Fields{
		"environment":   cfg.Environment,
		"degraded_otp":  cfg.AllowDegradedOTP,
		"otp_dev_mode":  cfg.OTPDevMode,
		"signed_tokens": cfg.ResetTokenSecret != "",
	}).Info("starting phone password reset API")

	ctx := context.Background()

	if err := db.CreateDatabaseIfNotExists(ctx, cfg.DatabaseURL, log); err != nil {
		log.WithError(err).Fatal("failed to ensure database exists")
	}

	database, err := db.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close()

	if cfg.AutoMigrate {
		if err := migrations.RunMigrations(ctx, database.DB, log); err != nil {
			log.WithError(err).Fatal("failed to run migrations")
		}
	} else {
		log.Warn("AUTO_MIGRATE disabled, schema is not managed by this process")
	}

	router := routes.SetupRoutes(database.DB, cfg, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server exiting")
}
