package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/driveport/api/pkg/logger"
)

// TypeAuditPrune is the task type for audit-trail retention sweeps.
const TypeAuditPrune = "maintenance:audit_prune"

// AuditPrunePayload names the retention window for one sweep.
type AuditPrunePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAuditPruneTask creates a prune task on the low queue. Sweeps are
// idempotent, so a single retry is enough.
func NewAuditPruneTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{Retention: retention})
	if err != nil {
		return nil, fmt.Errorf("marshal audit prune payload: %w", err)
	}
	return asynq.NewTask(
		TypeAuditPrune,
		data,
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("low"),
	), nil
}

// AuditPruner deletes audit records older than the cutoff and reports how
// many rows went away. postgres.AuditRepository satisfies it.
type AuditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintenanceTaskHandler runs retention sweeps.
type MaintenanceTaskHandler struct {
	pruner AuditPruner
	log    *logger.Logger
}

// NewMaintenanceTaskHandler creates the handler.
func NewMaintenanceTaskHandler(pruner AuditPruner, log *logger.Logger) *MaintenanceTaskHandler {
	return &MaintenanceTaskHandler{pruner: pruner, log: log}
}

// HandleAuditPrune deletes audit records past the retention window.
func (h *MaintenanceTaskHandler) HandleAuditPrune(ctx context.Context, t *asynq.Task) error {
	var payload AuditPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal audit prune payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Retention <= 0 {
		return fmt.Errorf("non-positive retention %s: %w", payload.Retention, asynq.SkipRetry)
	}

	cutoff := time.Now().UTC().Add(-payload.Retention)
	deleted, err := h.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune audit records: %w", err)
	}

	h.log.Info("audit records pruned",
		"cutoff", cutoff,
		"deleted", deleted,
	)
	return nil
}
