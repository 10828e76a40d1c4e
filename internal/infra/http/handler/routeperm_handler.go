package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driveport/api/pkg/apierror"
	"github.com/driveport/api/pkg/domain/accesscontrol"
	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/logger"
)

// RoutePermissionHandler manages the dynamic route-permission mappings
// consulted by the request guard. Changes take effect for new requests
// immediately; cached permission sets age out on their TTL.
type RoutePermissionHandler struct {
	repo accesscontrol.RoutePermissionRepository
	log  *logger.Logger
}

// NewRoutePermissionHandler creates the handler.
func NewRoutePermissionHandler(repo accesscontrol.RoutePermissionRepository, log *logger.Logger) *RoutePermissionHandler {
	return &RoutePermissionHandler{repo: repo, log: log}
}

// RoutePermissionResponse is the wire form of a mapping.
type RoutePermissionResponse struct {
	ID                 string    `json:"id"`
	RouteName          string    `json:"route_name"`
	RequiredPermission string    `json:"required_permission"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toRoutePermissionResponse(rp *accesscontrol.RoutePermission) RoutePermissionResponse {
	return RoutePermissionResponse{
		ID:                 rp.ID().String(),
		RouteName:          rp.RouteName(),
		RequiredPermission: rp.RequiredPermission(),
		IsActive:           rp.IsActive(),
		CreatedAt:          rp.CreatedAt(),
		UpdatedAt:          rp.UpdatedAt(),
	}
}

// List returns all mappings, active and inactive.
func (h *RoutePermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.repo.List(r.Context())
	if err != nil {
		h.log.Error("route permission list failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	out := make([]RoutePermissionResponse, 0, len(mappings))
	for _, rp := range mappings {
		out = append(out, toRoutePermissionResponse(rp))
	}
	respondJSON(w, http.StatusOK, out)
}

// CreateRoutePermissionRequest is the creation payload.
type CreateRoutePermissionRequest struct {
	RouteName          string `json:"route_name" validate:"required,min=1,max=255"`
	RequiredPermission string `json:"required_permission" validate:"required,min=1,max=255"`
}

// Create registers a new active mapping. Only one active mapping may exist
// per route.
func (h *RoutePermissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoutePermissionRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}

	rp, err := accesscontrol.NewRoutePermission(req.RouteName, req.RequiredPermission)
	if err != nil {
		apierror.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	if err := h.repo.Create(r.Context(), rp); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			apierror.New(http.StatusConflict, apierror.CodeBadRequest, "Route already has an active mapping").WriteJSON(w)
			return
		}
		h.log.Error("route permission create failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusCreated, toRoutePermissionResponse(rp))
}

// Deactivate turns an active mapping off. The route falls back to its static
// directive requirement.
func (h *RoutePermissionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	routeName := chi.URLParam(r, "routeName")
	if routeName == "" {
		apierror.BadRequest("route name is required").WriteJSON(w)
		return
	}

	rp, err := h.repo.GetActiveByRoute(r.Context(), routeName)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			apierror.NotFound("Route mapping").WriteJSON(w)
			return
		}
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	rp.Deactivate()
	if err := h.repo.Update(r.Context(), rp); err != nil {
		h.log.Error("route permission deactivate failed", "error", err, "route", routeName)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusOK, toRoutePermissionResponse(rp))
}
