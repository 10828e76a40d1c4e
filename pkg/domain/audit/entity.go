// Package audit provides the append-only audit trail for security-relevant
// decisions. Records are created by the request guard on every deny and on
// every access to a sensitive route; they are never mutated or deleted here.
package audit

import (
	"time"

	"github.com/driveport/api/pkg/domain/shared"
)

// Record is a single audit trail entry.
type Record struct {
	id          shared.ID
	principalID *shared.ID // nil for unauthenticated actors
	action      Action
	resourceRef string
	outcome     Outcome
	reason      string // machine code explaining a denial or bypass
	metadata    Metadata
	timestamp   time.Time
}

// Metadata carries the request context of an audit record.
type Metadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Route     string `json:"route,omitempty"`
	Method    string `json:"method,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewRecord creates an audit record stamped with the current time.
func NewRecord(action Action, resourceRef string, outcome Outcome) *Record {
	return &Record{
		id:          shared.NewID(),
		action:      action,
		resourceRef: resourceRef,
		outcome:     outcome,
		timestamp:   time.Now().UTC(),
	}
}

// Reconstitute recreates a Record from persistence.
func Reconstitute(
	id shared.ID,
	principalID *shared.ID,
	action Action,
	resourceRef string,
	outcome Outcome,
	reason string,
	metadata Metadata,
	timestamp time.Time,
) *Record {
	return &Record{
		id:          id,
		principalID: principalID,
		action:      action,
		resourceRef: resourceRef,
		outcome:     outcome,
		reason:      reason,
		metadata:    metadata,
		timestamp:   timestamp,
	}
}

// ID returns the record ID.
func (r *Record) ID() shared.ID { return r.id }

// PrincipalID returns the acting principal, or nil for anonymous actors.
func (r *Record) PrincipalID() *shared.ID { return r.principalID }

// Action returns the audited action.
func (r *Record) Action() Action { return r.action }

// ResourceRef returns the affected resource reference.
func (r *Record) ResourceRef() string { return r.resourceRef }

// Outcome returns whether access was granted or denied.
func (r *Record) Outcome() Outcome { return r.outcome }

// Reason returns the machine code explaining the outcome.
func (r *Record) Reason() string { return r.reason }

// Metadata returns the request metadata.
func (r *Record) Metadata() Metadata { return r.metadata }

// Timestamp returns when the decision was made.
func (r *Record) Timestamp() time.Time { return r.timestamp }

// WithPrincipal sets the acting principal.
func (r *Record) WithPrincipal(id shared.ID) *Record {
	r.principalID = &id
	return r
}

// WithReason sets the outcome reason code.
func (r *Record) WithReason(reason string) *Record {
	r.reason = reason
	return r
}

// WithMetadata sets the request metadata.
func (r *Record) WithMetadata(m Metadata) *Record {
	r.metadata = m
	return r
}
