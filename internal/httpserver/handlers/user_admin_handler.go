package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"backoffice/internal/account"
	"backoffice/internal/apperr"
	"backoffice/internal/audit"
	"backoffice/internal/auth"
	"backoffice/internal/tenancy"
)

// Directory serves user and role administration inside the resolved tenant.
type Directory struct {
	Audit  *audit.Recorder
	Logger *zap.SugaredLogger
}

func tenantDirectory(r *http.Request) (*account.TenantDirectory, string, error) {
	scope, ok := tenancy.FromContext(r.Context())
	if !ok || scope.DB == nil {
		return nil, "", apperr.E(apperr.BadRequest, "tenant could not be resolved")
	}
	return account.NewTenantDirectory(scope.DB), scope.Tenant.ID, nil
}

func (h Directory) record(r *http.Request, action, tenantID string, meta map[string]any) {
	u, _ := auth.FromContext(r.Context())
	h.Audit.Record(r.Context(), audit.Event{
		Action:   action,
		Level:    string(u.Level),
		UserID:   u.UserID,
		TenantID: tenantID,
		Metadata: meta,
	})
}

func (h Directory) ListUsers(w http.ResponseWriter, r *http.Request) {
	dir, _, err := tenantDirectory(r)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	users, err := dir.ListUsers(r.Context())
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	respondJSON(w, users)
}

func (h Directory) CreateUser(w http.ResponseWriter, r *http.Request) {
	dir, tenantID, err := tenantDirectory(r)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	var in account.NewUser
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	u, err := dir.CreateUser(r.Context(), in)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	h.record(r, audit.ActionUserCreate, tenantID, map[string]any{"user_id": u.ID, "username": u.Username})
	respondStatus(w, http.StatusCreated, u)
}

func (h Directory) AssignRoles(w http.ResponseWriter, r *http.Request) {
	dir, tenantID, err := tenantDirectory(r)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	var req struct {
		Roles []string `json:"roles"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	u, err := dir.AssignRoles(r.Context(), chi.URLParam(r, "id"), req.Roles)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	h.record(r, audit.ActionRoleAssign, tenantID, map[string]any{"user_id": u.ID, "roles": req.Roles})
	respondJSON(w, u)
}

func (h Directory) ListRoles(w http.ResponseWriter, r *http.Request) {
	dir, _, err := tenantDirectory(r)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	roles, err := dir.ListRoles(r.Context())
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	respondJSON(w, roles)
}

func (h Directory) CreateRole(w http.ResponseWriter, r *http.Request) {
	dir, tenantID, err := tenantDirectory(r)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	var in account.NewRole
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	role, err := dir.CreateRole(r.Context(), in)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	h.record(r, audit.ActionRoleCreate, tenantID, map[string]any{"role": role.Name})
	respondStatus(w, http.StatusCreated, role)
}
