package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/driveport/api/internal/infra/postgres"
	"github.com/driveport/api/pkg/apierror"
	"github.com/driveport/api/pkg/domain/audit"
	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/logger"
)

// AuditHandler serves the admin audit trail.
type AuditHandler struct {
	repo *postgres.AuditRepository
	log  *logger.Logger
}

// NewAuditHandler creates the handler.
func NewAuditHandler(repo *postgres.AuditRepository, log *logger.Logger) *AuditHandler {
	return &AuditHandler{repo: repo, log: log}
}

// AuditRecordResponse is the wire form of an audit record.
type AuditRecordResponse struct {
	ID          string         `json:"id"`
	PrincipalID string         `json:"principal_id,omitempty"`
	Action      string         `json:"action"`
	ResourceRef string         `json:"resource_ref"`
	Outcome     string         `json:"outcome"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    audit.Metadata `json:"metadata"`
	Timestamp   time.Time      `json:"timestamp"`
}

func toAuditResponse(rec *audit.Record) AuditRecordResponse {
	resp := AuditRecordResponse{
		ID:          rec.ID().String(),
		Action:      string(rec.Action()),
		ResourceRef: rec.ResourceRef(),
		Outcome:     string(rec.Outcome()),
		Reason:      rec.Reason(),
		Metadata:    rec.Metadata(),
		Timestamp:   rec.Timestamp(),
	}
	if pid := rec.PrincipalID(); pid != nil {
		resp.PrincipalID = pid.String()
	}
	return resp
}

// List returns audit records, newest first. Filterable by principal_id,
// action, outcome, since (RFC3339), and limit.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, apiErr := parseAuditFilter(r)
	if apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}

	records, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.log.Error("audit list failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	out := make([]AuditRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toAuditResponse(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

func parseAuditFilter(r *http.Request) (postgres.AuditFilter, *apierror.Error) {
	var filter postgres.AuditFilter
	q := r.URL.Query()

	if s := q.Get("principal_id"); s != "" {
		id, err := shared.IDFromString(s)
		if err != nil {
			return filter, apierror.BadRequest("invalid principal_id")
		}
		filter.PrincipalID = &id
	}

	if s := q.Get("action"); s != "" {
		action := audit.Action(s)
		if !action.IsValid() {
			return filter, apierror.BadRequest("unknown action")
		}
		filter.Action = action
	}

	if s := q.Get("outcome"); s != "" {
		outcome := audit.Outcome(s)
		if !outcome.IsValid() {
			return filter, apierror.BadRequest("unknown outcome")
		}
		filter.Outcome = outcome
	}

	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, apierror.BadRequest("since must be RFC3339")
		}
		filter.Since = since
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return filter, apierror.BadRequest("limit must be a positive integer")
		}
		filter.Limit = limit
	}

	return filter, nil
}
