package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/driveport/api/internal/config"
	"github.com/driveport/api/internal/metrics"
	"github.com/driveport/api/pkg/domain/anomaly"
	"github.com/driveport/api/pkg/logger"
)

// Client enqueues background tasks. It satisfies the HTTP layer's
// VerificationEnqueuer and OTPSender interfaces and the anomaly package's
// AlertEmitter, so one client serves all producers.
type Client struct {
	client *asynq.Client
	log    *logger.Logger
}

// NewClient creates a task client from the Redis configuration.
func NewClient(cfg *config.RedisConfig, log *logger.Logger) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		log: log,
	}
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	c.log.Info("task enqueued",
		"type", task.Type(),
		"task_id", info.ID,
		"queue", info.Queue,
	)
	return info, nil
}

// EnqueueVerification queues an identity verification job and returns the
// task ID for later status lookups.
func (c *Client) EnqueueVerification(ctx context.Context, driverID, provider string, payload map[string]string) (string, error) {
	task, err := NewVerificationTask(VerificationPayload{
		DriverID:    driverID,
		Provider:    provider,
		Fields:      payload,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	info, err := c.enqueue(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// SendOTP queues delivery of a one-time code to the principal's registered
// channel.
func (c *Client) SendOTP(ctx context.Context, principalID, code string) error {
	task, err := NewOTPTask(OTPPayload{
		PrincipalID: principalID,
		Code:        code,
		IssuedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task)
	return err
}

// EnqueueNotification queues a generic outbound message.
func (c *Client) EnqueueNotification(ctx context.Context, payload NotificationPayload) error {
	task, err := NewNotificationTask(payload)
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task)
	return err
}

// Emit queues an anomaly alert for operator fan-out. Alerts are advisory,
// so an enqueue failure logs and drops rather than surfacing to the
// request path.
func (c *Client) Emit(ctx context.Context, alert anomaly.Alert) {
	metrics.AnomalyAlertsTotal.WithLabelValues(alert.Kind, string(alert.Severity)).Inc()

	task, err := NewAnomalyAlertTask(AnomalyAlertPayload{
		PrincipalID: alert.PrincipalID,
		IP:          alert.IP,
		Kind:        alert.Kind,
		Severity:    string(alert.Severity),
		Detail:      alert.Detail,
		Timestamp:   alert.Timestamp,
	})
	if err != nil {
		c.log.Error("anomaly alert not queued", "kind", alert.Kind, "error", err)
		return
	}
	if _, err := c.enqueue(ctx, task); err != nil {
		c.log.Error("anomaly alert not queued", "kind", alert.Kind, "error", err)
	}
}

// EnqueueAuditPrune queues a retention sweep over the audit trail.
func (c *Client) EnqueueAuditPrune(ctx context.Context, retention time.Duration) error {
	task, err := NewAuditPruneTask(retention)
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task)
	return err
}
