package handler

import (
	"context"
	"net/http"

	"github.com/driveport/api/pkg/apierror"
	"github.com/driveport/api/pkg/logger"
)

// VerificationEnqueuer submits an identity-verification job. The jobs client
// implements it on asynq.
type VerificationEnqueuer interface {
	EnqueueVerification(ctx context.Context, driverID, provider string, payload map[string]string) (taskID string, err error)
}

// Verification providers accepted by the submit endpoint.
var verificationProviders = map[string]bool{
	"frsc":    true,
	"nimc":    true,
	"smileid": true,
}

// VerificationHandler accepts identity-verification submissions and hands
// them to the background queue. Provider calls happen in the worker, with
// retries; this endpoint only validates and enqueues.
type VerificationHandler struct {
	enqueuer VerificationEnqueuer
	log      *logger.Logger
}

// NewVerificationHandler creates the handler.
func NewVerificationHandler(enqueuer VerificationEnqueuer, log *logger.Logger) *VerificationHandler {
	return &VerificationHandler{enqueuer: enqueuer, log: log}
}

// SubmitVerificationRequest is the submission payload.
type SubmitVerificationRequest struct {
	DriverID string            `json:"driver_id" validate:"required,uuid"`
	Provider string            `json:"provider" validate:"required,oneof=frsc nimc smileid"`
	Payload  map[string]string `json:"payload" validate:"required,min=1"`
}

// Submit validates and enqueues a verification job.
func (h *VerificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitVerificationRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}

	if !verificationProviders[req.Provider] {
		apierror.BadRequest("unknown verification provider").WriteJSON(w)
		return
	}

	taskID, err := h.enqueuer.EnqueueVerification(r.Context(), req.DriverID, req.Provider, req.Payload)
	if err != nil {
		h.log.Error("verification enqueue failed", "error", err, "provider", req.Provider)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"task_id": taskID,
		"status":  "queued",
	})
}
