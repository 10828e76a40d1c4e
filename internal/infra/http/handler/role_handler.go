package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/driveport/api/pkg/apierror"
	"github.com/driveport/api/pkg/domain/role"
	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/logger"
)

// RoleHandler serves the admin role surface: listing, creation with parent
// cycle validation, and principal assignment.
type RoleHandler struct {
	repo role.Repository
	log  *logger.Logger
}

// NewRoleHandler creates the handler.
func NewRoleHandler(repo role.Repository, log *logger.Logger) *RoleHandler {
	return &RoleHandler{repo: repo, log: log}
}

// RoleResponse is the wire form of a role.
type RoleResponse struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Level       int       `json:"level"`
	ParentID    string    `json:"parent_id,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

func toRoleResponse(ro *role.Role) RoleResponse {
	resp := RoleResponse{
		ID:          ro.ID().String(),
		Slug:        ro.Slug(),
		Name:        ro.Name(),
		Description: ro.Description(),
		Level:       ro.Level(),
		Permissions: ro.Permissions(),
		CreatedAt:   ro.CreatedAt(),
	}
	if parent := ro.ParentID(); parent != nil {
		resp.ParentID = parent.String()
	}
	return resp
}

// List returns all roles.
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	roles, err := h.repo.List(r.Context())
	if err != nil {
		h.log.Error("role list failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	out := make([]RoleResponse, 0, len(roles))
	for _, ro := range roles {
		out = append(out, toRoleResponse(ro))
	}
	respondJSON(w, http.StatusOK, out)
}

// CreateRoleRequest is the role creation payload.
type CreateRoleRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Level       int      `json:"level" validate:"required,min=1,max=100"`
	ParentID    string   `json:"parent_id" validate:"omitempty,uuid"`
	Permissions []string `json:"permissions" validate:"dive,min=1"`
}

// Create registers a new role. Parent chains are validated against cycles at
// creation time.
func (h *RoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}

	var parentID *shared.ID
	if req.ParentID != "" {
		id, err := shared.IDFromString(req.ParentID)
		if err != nil {
			apierror.BadRequest("invalid parent_id").WriteJSON(w)
			return
		}
		parentID = &id
	}

	lookup := func(id shared.ID) (*shared.ID, error) {
		return h.repo.ParentOf(r.Context(), id)
	}

	ro, err := role.New(req.Name, req.Description, req.Level, parentID, req.Permissions, lookup)
	if err != nil {
		apierror.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	if err := h.repo.Create(r.Context(), ro); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			apierror.New(http.StatusConflict, apierror.CodeBadRequest, "Role already exists").WriteJSON(w)
			return
		}
		h.log.Error("role create failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusCreated, toRoleResponse(ro))
}

// AssignRoleRequest is the assignment payload.
type AssignRoleRequest struct {
	PrincipalID string `json:"principal_id" validate:"required,uuid"`
	RoleID      string `json:"role_id" validate:"required,uuid"`
}

// Assign grants a role to a principal. Assignments are idempotent.
func (h *RoleHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRoleRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}

	principalID, err := shared.IDFromString(req.PrincipalID)
	if err != nil {
		apierror.BadRequest("invalid principal_id").WriteJSON(w)
		return
	}
	roleID, err := shared.IDFromString(req.RoleID)
	if err != nil {
		apierror.BadRequest("invalid role_id").WriteJSON(w)
		return
	}

	if err := h.repo.AssignRole(r.Context(), principalID, roleID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			apierror.NotFound("Principal or role").WriteJSON(w)
			return
		}
		h.log.Error("role assignment failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

// Remove revokes a role from a principal.
func (h *RoleHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req AssignRoleRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}

	principalID, err := shared.IDFromString(req.PrincipalID)
	if err != nil {
		apierror.BadRequest("invalid principal_id").WriteJSON(w)
		return
	}
	roleID, err := shared.IDFromString(req.RoleID)
	if err != nil {
		apierror.BadRequest("invalid role_id").WriteJSON(w)
		return
	}

	if err := h.repo.RemoveRole(r.Context(), principalID, roleID); err != nil {
		h.log.Error("role removal failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
