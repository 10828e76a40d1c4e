package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/driveport/api/pkg/logger"
)

// Task types for the notification queue.
const (
	TypeNotificationSend = "notification:send"
	TypeOTPDeliver       = "notification:otp"
	TypeAnomalyAlert     = "notification:anomaly_alert"
)

// NotificationPayload is a generic outbound message for operators or
// principals.
type NotificationPayload struct {
	Recipient string            `json:"recipient"`
	Channel   string            `json:"channel"` // email, sms, push
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OTPPayload carries a one-time code to a principal's registered channel.
type OTPPayload struct {
	PrincipalID string    `json:"principal_id"`
	Code        string    `json:"code"`
	IssuedAt    time.Time `json:"issued_at"`
}

// AnomalyAlertPayload mirrors anomaly.Alert for transport.
type AnomalyAlertPayload struct {
	PrincipalID string    `json:"principal_id,omitempty"`
	IP          string    `json:"ip,omitempty"`
	Kind        string    `json:"kind"`
	Severity    string    `json:"severity"`
	Detail      string    `json:"detail"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewNotificationTask creates a generic notification task on the default
// queue.
func NewNotificationTask(payload NotificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal notification payload: %w", err)
	}
	return asynq.NewTask(
		TypeNotificationSend,
		data,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Queue("default"),
	), nil
}

// NewOTPTask creates an OTP delivery task. OTP codes expire quickly, so the
// task gets few retries and a short retention.
func NewOTPTask(payload OTPPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal otp payload: %w", err)
	}
	return asynq.NewTask(
		TypeOTPDeliver,
		data,
		asynq.MaxRetry(2),
		asynq.Timeout(30*time.Second),
		asynq.Queue("critical"),
		asynq.Retention(15*time.Minute),
	), nil
}

// NewAnomalyAlertTask creates an alert fan-out task on the low queue.
func NewAnomalyAlertTask(payload AnomalyAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal anomaly alert payload: %w", err)
	}
	return asynq.NewTask(
		TypeAnomalyAlert,
		data,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
		asynq.Queue("low"),
	), nil
}

// NotificationSender delivers a message over a concrete channel. Delivery
// internals (SMTP, SMS gateway) live behind this interface.
type NotificationSender interface {
	Send(ctx context.Context, recipient, channel, subject, body string) error
}

// OTPDeliverer resolves a principal's contact channel and delivers the code.
type OTPDeliverer interface {
	Deliver(ctx context.Context, principalID, code string) error
}

// NotificationTaskHandler processes the notification queue.
type NotificationTaskHandler struct {
	sender NotificationSender
	otp    OTPDeliverer
	log    *logger.Logger
}

// NewNotificationTaskHandler creates the handler.
func NewNotificationTaskHandler(sender NotificationSender, otp OTPDeliverer, log *logger.Logger) *NotificationTaskHandler {
	return &NotificationTaskHandler{sender: sender, otp: otp, log: log}
}

// HandleSend processes a generic notification task.
func (h *NotificationTaskHandler) HandleSend(ctx context.Context, t *asynq.Task) error {
	var payload NotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal notification payload: %v: %w", err, asynq.SkipRetry)
	}
	if h.sender == nil {
		h.log.Warn("notification dropped, no sender configured", "channel", payload.Channel)
		return nil
	}
	if err := h.sender.Send(ctx, payload.Recipient, payload.Channel, payload.Subject, payload.Body); err != nil {
		return fmt.Errorf("send %s notification: %w", payload.Channel, err)
	}
	h.log.Info("notification sent", "channel", payload.Channel)
	return nil
}

// HandleOTP processes an OTP delivery task. Codes older than their challenge
// window are dropped rather than delivered stale.
func (h *NotificationTaskHandler) HandleOTP(ctx context.Context, t *asynq.Task) error {
	var payload OTPPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal otp payload: %v: %w", err, asynq.SkipRetry)
	}
	if time.Since(payload.IssuedAt) > 10*time.Minute {
		h.log.Warn("stale otp dropped", "principal_id", payload.PrincipalID)
		return nil
	}
	if h.otp == nil {
		h.log.Warn("otp dropped, no deliverer configured", "principal_id", payload.PrincipalID)
		return nil
	}
	if err := h.otp.Deliver(ctx, payload.PrincipalID, payload.Code); err != nil {
		return fmt.Errorf("deliver otp: %w", err)
	}
	h.log.Info("otp delivered", "principal_id", payload.PrincipalID)
	return nil
}

// HandleAnomalyAlert forwards an alert to operators.
func (h *NotificationTaskHandler) HandleAnomalyAlert(ctx context.Context, t *asynq.Task) error {
	var payload AnomalyAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal anomaly alert payload: %v: %w", err, asynq.SkipRetry)
	}

	h.log.Warn("anomaly alert",
		"kind", payload.Kind,
		"severity", payload.Severity,
		"principal_id", payload.PrincipalID,
		"ip", payload.IP,
		"detail", payload.Detail,
	)

	if h.sender == nil {
		return nil
	}
	body := fmt.Sprintf("%s (%s): %s", payload.Kind, payload.Severity, payload.Detail)
	if err := h.sender.Send(ctx, "security", "email", "Anomaly alert: "+payload.Kind, body); err != nil {
		return fmt.Errorf("send anomaly alert: %w", err)
	}
	return nil
}
