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

type capturePruner struct {
	cutoff  time.Time
	deleted int64
	err     error
	calls   int
}

func (p *capturePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.calls++
	p.cutoff = cutoff
	return p.deleted, p.err
}

func TestMaintenanceTaskHandler_Prunes(t *testing.T) {
	pruner := &capturePruner{deleted: 42}
	h := NewMaintenanceTaskHandler(pruner, logger.NewNop())

	task, err := NewAuditPruneTask(30 * 24 * time.Hour)
	require.NoError(t, err)

	require.NoError(t, h.HandleAuditPrune(context.Background(), task))
	require.Equal(t, 1, pruner.calls)
	assert.WithinDuration(t, time.Now().UTC().Add(-30*24*time.Hour), pruner.cutoff, time.Minute)
}

func TestMaintenanceTaskHandler_NonPositiveRetentionSkipsRetry(t *testing.T) {
	pruner := &capturePruner{}
	h := NewMaintenanceTaskHandler(pruner, logger.NewNop())

	task, err := NewAuditPruneTask(0)
	require.NoError(t, err)

	pruneErr := h.HandleAuditPrune(context.Background(), task)
	require.Error(t, pruneErr)
	assert.ErrorIs(t, pruneErr, asynq.SkipRetry)
	assert.Zero(t, pruner.calls)
}

func TestMaintenanceTaskHandler_MalformedPayloadSkipsRetry(t *testing.T) {
	h := NewMaintenanceTaskHandler(&capturePruner{}, logger.NewNop())

	err := h.HandleAuditPrune(context.Background(), asynq.NewTask(TypeAuditPrune, []byte("nope")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestMaintenanceTaskHandler_StoreErrorRetries(t *testing.T) {
	pruner := &capturePruner{err: errors.New("deadlock")}
	h := NewMaintenanceTaskHandler(pruner, logger.NewNop())

	task, err := NewAuditPruneTask(time.Hour)
	require.NoError(t, err)

	pruneErr := h.HandleAuditPrune(context.Background(), task)
	require.Error(t, pruneErr)
	assert.NotErrorIs(t, pruneErr, asynq.SkipRetry)
}
