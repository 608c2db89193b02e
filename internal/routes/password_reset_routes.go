package routes

import (
	"database/sql"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"phonereset/internal/config"
	"phonereset/internal/handlers"
	"phonereset/internal/middleware"
	"phonereset/internal/repository"
	"phonereset/internal/services"
)

func RegisterPasswordResetRoutes(router chi.Router, db *sql.DB, cfg *config.Config, log logrus.FieldLogger) {
	backend := repository.NewSQLBackend(db, cfg.BcryptCost)

	var tokens services.ResetTokenCodec = services.LegacyTokenCodec{}
	if cfg.ResetTokenSecret != "" {
		tokens = services.NewSignedTokenCodec(cfg.ResetTokenSecret)
	}

	sender, devStore := buildOTPSender(cfg, log)

	svc := services.NewPasswordResetService(backend, tokens, sender, log, services.Options{
		OTPTTL:            cfg.OTPTTL,
		ResetTokenTTL:     cfg.ResetTokenTTL,
		MinPasswordLength: cfg.MinPasswordLength,
		AllowDegradedOTP:  cfg.AllowDegradedOTP,
	})
	h := handlers.NewPasswordResetHandler(svc, log)

	router.Route("/auth/password-reset", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitLimit, cfg.RateLimitPeriod, log))
		r.Post("/request-otp", h.RequestOTP)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Post("/reset", h.ResetPassword)
	})

	if devStore != nil {
		log.Warn("otp dev mode enabled, codes readable at /api/v1/dev/otp")
		router.Get("/dev/otp", handlers.NewDevOTPHandler(devStore).GetOTP)
	}
}

// buildOTPSender fans out to every configured channel. With none configured
// the code is only logged as issued.
func buildOTPSender(cfg *config.Config, log logrus.FieldLogger) (services.OTPSender, *services.DevOTPStore) {
	var senders services.MultiSender

	if cfg.SMSAPIKey != "" {
		senders = append(senders, services.NewSMSClient(cfg.SMSAPIKey, cfg.SMSBaseURL, cfg.SMSSender))
	}

	mailer := &services.SMTPSender{
		Host:   cfg.SMTPHost,
		Port:   cfg.SMTPPort,
		User:   cfg.SMTPUser,
		Pass:   cfg.SMTPPassword,
		From:   cfg.SMTPFrom,
		UseTLS: cfg.SMTPUseTLS,
	}
	if mailer.Configured() {
		senders = append(senders, &services.MailOTPSender{Mailer: mailer, TTL: cfg.OTPTTL})
	}

	var devStore *services.DevOTPStore
	if cfg.OTPDevMode {
		devStore = services.NewDevOTPStore()
		senders = append(senders, devStore)
	}

	if len(senders) == 0 {
		return &services.LogOTPSender{Log: log}, nil
	}
	return senders, devStore
}
