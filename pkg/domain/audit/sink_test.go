package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/logger"
)

type captureSink struct {
	mu      sync.Mutex
	records []*Record
	err     error
	done    chan struct{}
}

func newCaptureSink(expected int) *captureSink {
	return &captureSink{done: make(chan struct{}, expected)}
}

func (s *captureSink) Write(_ context.Context, record *Record) error {
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	s.done <- struct{}{}
	return s.err
}

func (s *captureSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit write")
	}
}

func TestRecord_Builders(t *testing.T) {
	principalID := shared.NewID()
	record := NewRecord(ActionPermissionCheck, "GET /api/v1/admin/roles", OutcomeDenied).
		WithPrincipal(principalID).
		WithReason("insufficient_permission").
		WithMetadata(Metadata{IP: "203.0.113.9", Route: "/api/v1/admin/roles", Method: "GET"})

	assert.False(t, record.ID().IsZero())
	require.NotNil(t, record.PrincipalID())
	assert.Equal(t, principalID, *record.PrincipalID())
	assert.Equal(t, ActionPermissionCheck, record.Action())
	assert.Equal(t, OutcomeDenied, record.Outcome())
	assert.Equal(t, "insufficient_permission", record.Reason())
	assert.Equal(t, "203.0.113.9", record.Metadata().IP)
	assert.WithinDuration(t, time.Now().UTC(), record.Timestamp(), time.Minute)
}

func TestAction_IsValid(t *testing.T) {
	for _, action := range []Action{
		ActionAccess, ActionLogin, ActionPermissionCheck,
		ActionRateLimitExceed, ActionProgressiveBlock,
		ActionSuspiciousDevice, ActionSuperAdminBypass,
	} {
		assert.True(t, action.IsValid(), string(action))
	}
	assert.False(t, Action("made_up").IsValid())
	assert.False(t, Outcome("maybe").IsValid())
}

func TestAsyncSink_WriteNeverFailsTheCaller(t *testing.T) {
	inner := newCaptureSink(1)
	sink := NewAsyncSink(inner, logger.NewNop())

	record := NewRecord(ActionAccess, "GET /api/v1/drivers", OutcomeGranted)
	assert.NoError(t, sink.Write(context.Background(), record))

	inner.wait(t)
	inner.mu.Lock()
	defer inner.mu.Unlock()
	require.Len(t, inner.records, 1)
	assert.Equal(t, record, inner.records[0])
}

func TestAsyncSink_SwallowsInnerErrors(t *testing.T) {
	inner := newCaptureSink(1)
	inner.err = errors.New("database unavailable")
	sink := NewAsyncSink(inner, logger.NewNop())

	assert.NoError(t, sink.Write(context.Background(), NewRecord(ActionLogin, "POST /api/v1/auth/login", OutcomeDenied)))
	inner.wait(t)
}

func TestAsyncSink_SurvivesCancelledRequestContext(t *testing.T) {
	inner := newCaptureSink(1)
	sink := NewAsyncSink(inner, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, sink.Write(ctx, NewRecord(ActionProgressiveBlock, "POST /api/v1/auth/login", OutcomeDenied)))
	inner.wait(t)
}
