package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"github.com/driveport/api/internal/config"
	"github.com/driveport/api/pkg/logger"
)

// Worker runs the asynq server that drains the task queues, plus a cron
// scheduler for periodic maintenance.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	cron   *cron.Cron
	client *Client
	cfg    *config.Config
	log    *logger.Logger

	verification *VerificationTaskHandler
	notification *NotificationTaskHandler
	maintenance  *MaintenanceTaskHandler
}

// WorkerOption configures optional task handlers.
type WorkerOption func(*Worker)

// WithVerificationHandler registers the identity verification processor.
func WithVerificationHandler(h *VerificationTaskHandler) WorkerOption {
	return func(w *Worker) { w.verification = h }
}

// WithNotificationHandler registers the notification processor.
func WithNotificationHandler(h *NotificationTaskHandler) WorkerOption {
	return func(w *Worker) { w.notification = h }
}

// WithMaintenanceHandler registers the retention sweep processor.
func WithMaintenanceHandler(h *MaintenanceTaskHandler) WorkerOption {
	return func(w *Worker) { w.maintenance = h }
}

// NewWorker creates a worker over the configured queues. Handlers are only
// registered for the processors supplied through options, so a deployment
// can split task types across worker pools.
func NewWorker(cfg *config.Config, client *Client, log *logger.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		cfg:    cfg,
		client: client,
		log:    log,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.server = asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    cfg.Worker.Concurrency,
			Queues:         cfg.Worker.Queues,
			RetryDelayFunc: VerificationRetryDelay,
			Logger:         asynqLogger{log},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("task failed",
					"type", task.Type(),
					"error", err,
				)
			}),
		},
	)

	w.mux = asynq.NewServeMux()
	if w.verification != nil {
		w.mux.HandleFunc(TypeVerificationSubmit, w.verification.HandleSubmit)
	}
	if w.notification != nil {
		w.mux.HandleFunc(TypeNotificationSend, w.notification.HandleSend)
		w.mux.HandleFunc(TypeOTPDeliver, w.notification.HandleOTP)
		w.mux.HandleFunc(TypeAnomalyAlert, w.notification.HandleAnomalyAlert)
	}
	if w.maintenance != nil {
		w.mux.HandleFunc(TypeAuditPrune, w.maintenance.HandleAuditPrune)
	}

	return w
}

// Run starts the queue server and the maintenance schedule, then blocks
// until the context is cancelled or the server fails.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.scheduleMaintenance(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			errCh <- fmt.Errorf("run task server: %w", err)
		}
	}()

	w.log.Info("worker started",
		"concurrency", w.cfg.Worker.Concurrency,
		"queues", w.cfg.Worker.Queues,
	)

	select {
	case <-ctx.Done():
		w.log.Info("worker shutting down")
		w.stop()
		return nil
	case err := <-errCh:
		w.stop()
		return err
	}
}

// scheduleMaintenance wires the periodic audit retention sweep. The sweep
// only enqueues; the prune itself runs through the queue like any other
// task.
func (w *Worker) scheduleMaintenance() error {
	if w.maintenance == nil || w.cfg.Worker.SweepSchedule == "" {
		return nil
	}

	w.cron = cron.New()
	retention := w.cfg.Audit.Retention
	_, err := w.cron.AddFunc(w.cfg.Worker.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.client.EnqueueAuditPrune(ctx, retention); err != nil {
			w.log.Error("audit prune sweep not queued", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance sweep %q: %w", w.cfg.Worker.SweepSchedule, err)
	}
	w.cron.Start()
	return nil
}

func (w *Worker) stop() {
	if w.cron != nil {
		cronCtx := w.cron.Stop()
		<-cronCtx.Done()
	}
	w.server.Shutdown()
}

// asynqLogger adapts the structured logger to asynq's logging interface.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
