package audit

import (
	"context"
	"time"

	"github.com/driveport/api/pkg/logger"
)

// Sink accepts audit records. Implementations must never surface an error to
// the request path; Write reports failures only so wrappers can log them.
type Sink interface {
	Write(ctx context.Context, record *Record) error
}

// writeTimeout bounds an audit write once it is detached from the request.
const writeTimeout = 5 * time.Second

// AsyncSink writes records best-effort, after the guarding decision has been
// finalized. A failed write is logged and swallowed; it never affects the
// request outcome, and a cancelled request context cannot abandon a write
// half-done because writes run on a detached context.
type AsyncSink struct {
	inner Sink
	log   *logger.Logger
}

// NewAsyncSink wraps a sink with fire-and-forget semantics.
func NewAsyncSink(inner Sink, log *logger.Logger) *AsyncSink {
	return &AsyncSink{inner: inner, log: log}
}

// Write dispatches the record on its own goroutine and always returns nil.
func (s *AsyncSink) Write(_ context.Context, record *Record) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := s.inner.Write(ctx, record); err != nil {
			s.log.Error("audit write failed",
				"action", string(record.Action()),
				"outcome", string(record.Outcome()),
				"error", err,
			)
		}
	}()
	return nil
}

// NopSink discards all records. Useful in tests.
type NopSink struct{}

// Write implements Sink.
func (NopSink) Write(context.Context, *Record) error { return nil }
