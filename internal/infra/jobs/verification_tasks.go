// Package jobs contains the asynq task definitions, the enqueueing client,
// and the worker that processes identity verification, notification, and
// maintenance jobs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/driveport/api/internal/metrics"
	"github.com/driveport/api/pkg/logger"
)

// TypeVerificationSubmit is the task type for identity verification.
const TypeVerificationSubmit = "verification:submit"

// Verification retry policy: three attempts with growing backoff. Provider
// outages recover within the ladder; anything still failing after that needs
// manual review.
const verificationMaxRetry = 3

var verificationBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// ErrPermanentFailure marks a verification that must not be retried, such as
// a provider rejecting the document outright.
var ErrPermanentFailure = errors.New("permanent verification failure")

// VerificationPayload is the task payload for a verification job.
type VerificationPayload struct {
	DriverID    string            `json:"driver_id"`
	Provider    string            `json:"provider"`
	Fields      map[string]string `json:"fields"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// NewVerificationTask creates a verification task for the critical queue.
func NewVerificationTask(payload VerificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal verification payload: %w", err)
	}

	return asynq.NewTask(
		TypeVerificationSubmit,
		data,
		asynq.MaxRetry(verificationMaxRetry),
		asynq.Timeout(2*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// VerificationResult is a provider's answer for one submission.
type VerificationResult struct {
	DriverID   string
	Provider   string
	Status     string // verified, rejected
	Reference  string
	Detail     string
	VerifiedAt time.Time
}

// VerificationProvider calls one external identity service (FRSC, NIMC,
// SmileID). Implementations live outside this package; a provider returns
// ErrPermanentFailure (wrapped) when retrying cannot help.
type VerificationProvider interface {
	Name() string
	Verify(ctx context.Context, driverID string, fields map[string]string) (*VerificationResult, error)
}

// VerificationResultStore persists provider results.
type VerificationResultStore interface {
	SaveResult(ctx context.Context, result *VerificationResult) error
}

// VerificationTaskHandler routes verification tasks to the right provider
// and records the result.
type VerificationTaskHandler struct {
	providers map[string]VerificationProvider
	results   VerificationResultStore
	log       *logger.Logger
}

// NewVerificationTaskHandler creates the handler over the given providers.
func NewVerificationTaskHandler(providers []VerificationProvider, results VerificationResultStore, log *logger.Logger) *VerificationTaskHandler {
	byName := make(map[string]VerificationProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &VerificationTaskHandler{
		providers: byName,
		results:   results,
		log:       log,
	}
}

// HandleSubmit processes one verification task. Unknown providers and
// permanent provider failures skip retries; transient errors surface to
// asynq for the backoff ladder.
func (h *VerificationTaskHandler) HandleSubmit(ctx context.Context, t *asynq.Task) error {
	var payload VerificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal verification payload: %v: %w", err, asynq.SkipRetry)
	}

	provider, ok := h.providers[payload.Provider]
	if !ok {
		metrics.VerificationJobsTotal.WithLabelValues(payload.Provider, "unknown_provider").Inc()
		return fmt.Errorf("unknown provider %q: %w", payload.Provider, asynq.SkipRetry)
	}

	start := time.Now()
	result, err := provider.Verify(ctx, payload.DriverID, payload.Fields)
	metrics.VerificationJobDuration.WithLabelValues(payload.Provider).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, ErrPermanentFailure) {
			h.log.Warn("verification permanently failed",
				"driver_id", payload.DriverID,
				"provider", payload.Provider,
				"error", err,
			)
			metrics.VerificationJobsTotal.WithLabelValues(payload.Provider, "rejected").Inc()

			h.saveResult(ctx, &VerificationResult{
				DriverID:   payload.DriverID,
				Provider:   payload.Provider,
				Status:     "rejected",
				Detail:     err.Error(),
				VerifiedAt: time.Now().UTC(),
			})
			return fmt.Errorf("verification rejected: %v: %w", err, asynq.SkipRetry)
		}

		h.log.Error("verification attempt failed",
			"driver_id", payload.DriverID,
			"provider", payload.Provider,
			"error", err,
		)
		metrics.VerificationJobsTotal.WithLabelValues(payload.Provider, "retry").Inc()
		return fmt.Errorf("verify with %s: %w", payload.Provider, err)
	}

	metrics.VerificationJobsTotal.WithLabelValues(payload.Provider, "verified").Inc()
	h.saveResult(ctx, result)

	h.log.Info("verification completed",
		"driver_id", payload.DriverID,
		"provider", payload.Provider,
		"status", result.Status,
	)
	return nil
}

func (h *VerificationTaskHandler) saveResult(ctx context.Context, result *VerificationResult) {
	if h.results == nil {
		return
	}
	if err := h.results.SaveResult(ctx, result); err != nil {
		h.log.Error("verification result not persisted",
			"driver_id", result.DriverID,
			"provider", result.Provider,
			"error", err,
		)
	}
}

// VerificationRetryDelay implements the 1/5/10-minute backoff for
// verification tasks; other task types use asynq's default.
func VerificationRetryDelay(n int, err error, task *asynq.Task) time.Duration {
	if task.Type() != TypeVerificationSubmit {
		return asynq.DefaultRetryDelayFunc(n, err, task)
	}
	idx := n - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(verificationBackoff) {
		idx = len(verificationBackoff) - 1
	}
	return verificationBackoff[idx]
}
