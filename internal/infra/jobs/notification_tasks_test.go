package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveport/api/pkg/logger"
)

type sentMessage struct {
	recipient string
	channel   string
	subject   string
	body      string
}

type captureSender struct {
	sent []sentMessage
	err  error
}

func (s *captureSender) Send(_ context.Context, recipient, channel, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{recipient, channel, subject, body})
	return nil
}

type captureDeliverer struct {
	principalID string
	code        string
	err         error
	calls       int
}

func (d *captureDeliverer) Deliver(_ context.Context, principalID, code string) error {
	d.calls++
	if d.err != nil {
		return d.err
	}
	d.principalID = principalID
	d.code = code
	return nil
}

func TestNotificationTaskHandler_Send(t *testing.T) {
	sender := &captureSender{}
	h := NewNotificationTaskHandler(sender, nil, logger.NewNop())

	task, err := NewNotificationTask(NotificationPayload{
		Recipient: "ops@example.com",
		Channel:   "email",
		Subject:   "Licence expiring",
		Body:      "Renew within 14 days.",
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleSend(context.Background(), task))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ops@example.com", sender.sent[0].recipient)
	assert.Equal(t, "Licence expiring", sender.sent[0].subject)
}

func TestNotificationTaskHandler_SendWithoutSenderDrops(t *testing.T) {
	h := NewNotificationTaskHandler(nil, nil, logger.NewNop())

	task, err := NewNotificationTask(NotificationPayload{Channel: "sms"})
	require.NoError(t, err)

	assert.NoError(t, h.HandleSend(context.Background(), task))
}

func TestNotificationTaskHandler_SendFailureRetries(t *testing.T) {
	h := NewNotificationTaskHandler(&captureSender{err: errors.New("gateway down")}, nil, logger.NewNop())

	task, err := NewNotificationTask(NotificationPayload{Channel: "sms"})
	require.NoError(t, err)

	sendErr := h.HandleSend(context.Background(), task)
	require.Error(t, sendErr)
	assert.NotErrorIs(t, sendErr, asynq.SkipRetry)
}

func TestNotificationTaskHandler_OTP(t *testing.T) {
	deliverer := &captureDeliverer{}
	h := NewNotificationTaskHandler(nil, deliverer, logger.NewNop())

	task, err := NewOTPTask(OTPPayload{
		PrincipalID: "p1",
		Code:        "482910",
		IssuedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleOTP(context.Background(), task))
	assert.Equal(t, "p1", deliverer.principalID)
	assert.Equal(t, "482910", deliverer.code)
}

func TestNotificationTaskHandler_StaleOTPDropped(t *testing.T) {
	deliverer := &captureDeliverer{}
	h := NewNotificationTaskHandler(nil, deliverer, logger.NewNop())

	task, err := NewOTPTask(OTPPayload{
		PrincipalID: "p1",
		Code:        "482910",
		IssuedAt:    time.Now().UTC().Add(-11 * time.Minute),
	})
	require.NoError(t, err)

	// A code this old has already expired; delivering it would only confuse.
	require.NoError(t, h.HandleOTP(context.Background(), task))
	assert.Zero(t, deliverer.calls)
}

func TestNotificationTaskHandler_OTPDeliveryFailureRetries(t *testing.T) {
	deliverer := &captureDeliverer{err: errors.New("sms gateway down")}
	h := NewNotificationTaskHandler(nil, deliverer, logger.NewNop())

	task, err := NewOTPTask(OTPPayload{PrincipalID: "p1", Code: "482910", IssuedAt: time.Now().UTC()})
	require.NoError(t, err)

	otpErr := h.HandleOTP(context.Background(), task)
	require.Error(t, otpErr)
	assert.NotErrorIs(t, otpErr, asynq.SkipRetry)
}

func TestNotificationTaskHandler_AnomalyAlert(t *testing.T) {
	sender := &captureSender{}
	h := NewNotificationTaskHandler(sender, nil, logger.NewNop())

	task, err := NewAnomalyAlertTask(AnomalyAlertPayload{
		PrincipalID: "p9",
		Kind:        "new_device",
		Severity:    "medium",
		Detail:      "unrecognised device fingerprint",
		Timestamp:   time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleAnomalyAlert(context.Background(), task))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Anomaly alert: new_device", sender.sent[0].subject)
	assert.Contains(t, sender.sent[0].body, "unrecognised device fingerprint")
}

func TestNotificationTaskHandler_AnomalyAlertWithoutSenderLogsOnly(t *testing.T) {
	h := NewNotificationTaskHandler(nil, nil, logger.NewNop())

	task, err := NewAnomalyAlertTask(AnomalyAlertPayload{Kind: "ip_fanout", Severity: "high"})
	require.NoError(t, err)

	assert.NoError(t, h.HandleAnomalyAlert(context.Background(), task))
}

func TestNotificationTaskHandler_MalformedPayloadsSkipRetry(t *testing.T) {
	h := NewNotificationTaskHandler(&captureSender{}, &captureDeliverer{}, logger.NewNop())

	for _, fn := range []func(context.Context, *asynq.Task) error{
		h.HandleSend, h.HandleOTP, h.HandleAnomalyAlert,
	} {
		err := fn(context.Background(), asynq.NewTask("notification:send", []byte("{broken")))
		require.Error(t, err)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	}
}
