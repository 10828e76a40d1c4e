// The worker binary drains the background task queues: identity verification
// submissions, notifications, and the audit retention sweep. It shares
// configuration with the API server and scales independently of it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/driveport/api/internal/config"
	"github.com/driveport/api/internal/infra/jobs"
	"github.com/driveport/api/internal/infra/notification"
	"github.com/driveport/api/internal/infra/postgres"
	"github.com/driveport/api/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log.Info("starting worker", "app", cfg.App.Name, "env", cfg.App.Env)

	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)

	client := jobs.NewClient(&cfg.Redis, log)
	defer closeWithLog(client, "job client", log)

	verificationResults := postgres.NewVerificationRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	dispatcher := buildDispatcher(cfg, log)
	otpDeliverer := notification.NewOTPDeliverer(
		postgres.NewContactRepository(db), dispatcher, cfg.App.Name,
	)

	worker := jobs.NewWorker(cfg, client, log,
		jobs.WithVerificationHandler(
			jobs.NewVerificationTaskHandler(buildProviders(cfg, log), verificationResults, log),
		),
		jobs.WithNotificationHandler(
			jobs.NewNotificationTaskHandler(dispatcher, otpDeliverer, log),
		),
		jobs.WithMaintenanceHandler(
			jobs.NewMaintenanceTaskHandler(auditRepo, log),
		),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil {
		log.Error("worker error", "error", err)
		return 1
	}

	log.Info("worker stopped")
	return 0
}

// buildDispatcher registers a sender per configured channel. With nothing
// configured the dispatcher stays empty and deliveries fail into the dead
// queue, which is the right place to notice a missing gateway.
func buildDispatcher(cfg *config.Config, log *logger.Logger) *notification.Dispatcher {
	var senders []notification.Sender

	if cfg.Notify.SMTPHost != "" {
		email, err := notification.NewEmailSender(notification.EmailConfig{
			Host:        cfg.Notify.SMTPHost,
			Port:        cfg.Notify.SMTPPort,
			Username:    cfg.Notify.SMTPUsername,
			Password:    cfg.Notify.SMTPPassword,
			FromAddress: cfg.Notify.SMTPFrom,
			FromName:    cfg.Notify.SMTPFromName,
			UseSTARTTLS: cfg.Notify.SMTPStartTLS,
		})
		if err != nil {
			log.Error("email sender not configured", "error", err)
		} else {
			senders = append(senders, email)
		}
	}

	if cfg.Notify.SMSGatewayURL != "" {
		sms, err := notification.NewSMSSender(notification.SMSConfig{
			GatewayURL: cfg.Notify.SMSGatewayURL,
			APIKey:     cfg.Notify.SMSAPIKey,
			SenderID:   cfg.Notify.SMSSenderID,
		})
		if err != nil {
			log.Error("sms sender not configured", "error", err)
		} else {
			senders = append(senders, sms)
		}
	}

	dispatcher := notification.NewDispatcher(log, senders...)
	log.Info("notification channels", "channels", dispatcher.Channels())
	return dispatcher
}

// buildProviders returns the configured verification providers. Provider
// credentials come from the environment; an unconfigured provider is simply
// absent and submissions naming it fail permanently.
func buildProviders(cfg *config.Config, log *logger.Logger) []jobs.VerificationProvider {
	// Real provider clients (FRSC, NIMC, SmileID) are wired here per
	// deployment. The worker runs without any; tasks for missing
	// providers are rejected instead of retried.
	return nil
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
