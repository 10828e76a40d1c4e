package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveport/api/pkg/logger"
)

type fakeProvider struct {
	name   string
	result *VerificationResult
	err    error
	calls  int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Verify(_ context.Context, driverID string, _ map[string]string) (*VerificationResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	r := *p.result
	r.DriverID = driverID
	return &r, nil
}

type captureResults struct {
	saved []*VerificationResult
	err   error
}

func (c *captureResults) SaveResult(_ context.Context, result *VerificationResult) error {
	if c.err != nil {
		return c.err
	}
	c.saved = append(c.saved, result)
	return nil
}

func newVerificationTask(t *testing.T, payload VerificationPayload) *asynq.Task {
	t.Helper()
	task, err := NewVerificationTask(payload)
	require.NoError(t, err)
	return task
}

func TestVerificationTaskHandler_Verified(t *testing.T) {
	provider := &fakeProvider{
		name: "frsc",
		result: &VerificationResult{
			Provider:   "frsc",
			Status:     "verified",
			Reference:  "ref-001",
			VerifiedAt: time.Now().UTC(),
		},
	}
	results := &captureResults{}
	h := NewVerificationTaskHandler([]VerificationProvider{provider}, results, logger.NewNop())

	task := newVerificationTask(t, VerificationPayload{
		DriverID:    "drv-1",
		Provider:    "frsc",
		Fields:      map[string]string{"licence_no": "ABC123"},
		SubmittedAt: time.Now().UTC(),
	})

	err := h.HandleSubmit(context.Background(), task)
	require.NoError(t, err)

	require.Len(t, results.saved, 1)
	assert.Equal(t, "drv-1", results.saved[0].DriverID)
	assert.Equal(t, "verified", results.saved[0].Status)
}

func TestVerificationTaskHandler_PermanentFailureSkipsRetry(t *testing.T) {
	provider := &fakeProvider{
		name: "nimc",
		err:  fmt.Errorf("document rejected: %w", ErrPermanentFailure),
	}
	results := &captureResults{}
	h := NewVerificationTaskHandler([]VerificationProvider{provider}, results, logger.NewNop())

	task := newVerificationTask(t, VerificationPayload{DriverID: "drv-2", Provider: "nimc"})

	err := h.HandleSubmit(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	// The rejection is still recorded for manual review.
	require.Len(t, results.saved, 1)
	assert.Equal(t, "rejected", results.saved[0].Status)
	assert.Contains(t, results.saved[0].Detail, "document rejected")
}

func TestVerificationTaskHandler_TransientFailureRetries(t *testing.T) {
	provider := &fakeProvider{name: "smileid", err: errors.New("upstream timeout")}
	results := &captureResults{}
	h := NewVerificationTaskHandler([]VerificationProvider{provider}, results, logger.NewNop())

	task := newVerificationTask(t, VerificationPayload{DriverID: "drv-3", Provider: "smileid"})

	err := h.HandleSubmit(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, results.saved)
}

func TestVerificationTaskHandler_UnknownProviderSkipsRetry(t *testing.T) {
	h := NewVerificationTaskHandler(nil, &captureResults{}, logger.NewNop())

	task := newVerificationTask(t, VerificationPayload{DriverID: "drv-4", Provider: "unheard-of"})

	err := h.HandleSubmit(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestVerificationTaskHandler_MalformedPayloadSkipsRetry(t *testing.T) {
	h := NewVerificationTaskHandler(nil, &captureResults{}, logger.NewNop())

	err := h.HandleSubmit(context.Background(), asynq.NewTask(TypeVerificationSubmit, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestVerificationTaskHandler_StoreErrorDoesNotFailTask(t *testing.T) {
	provider := &fakeProvider{
		name:   "frsc",
		result: &VerificationResult{Provider: "frsc", Status: "verified"},
	}
	results := &captureResults{err: errors.New("database down")}
	h := NewVerificationTaskHandler([]VerificationProvider{provider}, results, logger.NewNop())

	task := newVerificationTask(t, VerificationPayload{DriverID: "drv-5", Provider: "frsc"})

	// Losing the result row is logged, not retried: the provider already
	// answered and re-verifying would double-bill.
	assert.NoError(t, h.HandleSubmit(context.Background(), task))
}

func TestVerificationRetryDelay(t *testing.T) {
	task := newVerificationTask(t, VerificationPayload{DriverID: "drv-6", Provider: "frsc"})
	failure := errors.New("boom")

	assert.Equal(t, 1*time.Minute, VerificationRetryDelay(0, failure, task))
	assert.Equal(t, 1*time.Minute, VerificationRetryDelay(1, failure, task))
	assert.Equal(t, 5*time.Minute, VerificationRetryDelay(2, failure, task))
	assert.Equal(t, 10*time.Minute, VerificationRetryDelay(3, failure, task))
	assert.Equal(t, 10*time.Minute, VerificationRetryDelay(9, failure, task))

	// Other task types keep asynq's default backoff.
	other := asynq.NewTask("maintenance:audit_prune", nil)
	assert.Positive(t, VerificationRetryDelay(1, failure, other))
}
