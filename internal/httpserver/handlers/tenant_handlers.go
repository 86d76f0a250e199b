package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"backoffice/internal/audit"
	"backoffice/internal/auth"
	"backoffice/internal/tenant"
)

// Tenants serves the tenant management API.
type Tenants struct {
	Manager *tenant.Manager
	Audit   *audit.Recorder
	Logger  *zap.SugaredLogger
}

func (h Tenants) record(r *http.Request, action, tenantID string, meta map[string]any) {
	u, _ := auth.FromContext(r.Context())
	h.Audit.Record(r.Context(), audit.Event{
		Action:   action,
		Level:    string(u.Level),
		UserID:   u.UserID,
		TenantID: tenantID,
		Metadata: meta,
	})
}

func (h Tenants) Create(w http.ResponseWriter, r *http.Request) {
	var in tenant.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	t, err := h.Manager.Create(r.Context(), in)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	h.record(r, audit.ActionTenantCreate, t.ID, map[string]any{"name": t.Name, "schema": t.SchemaName})
	respondStatus(w, http.StatusCreated, t)
}

func (h Tenants) List(w http.ResponseWriter, r *http.Request) {
	out, err := h.Manager.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	respondJSON(w, out)
}

func (h Tenants) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.Manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	respondJSON(w, t)
}

func (h Tenants) Update(w http.ResponseWriter, r *http.Request) {
	var in tenant.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	t, err := h.Manager.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	h.record(r, audit.ActionTenantUpdate, t.ID, nil)
	respondJSON(w, t)
}

func (h Tenants) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	t, err := h.Manager.ChangeStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	h.record(r, audit.ActionTenantStatus, t.ID, map[string]any{"status": t.Status})
	respondJSON(w, t)
}

func (h Tenants) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Manager.Remove(r.Context(), id); err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	h.record(r, audit.ActionTenantRemove, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h Tenants) CheckSchema(w http.ResponseWriter, r *http.Request) {
	res, err := h.Manager.CheckSchema(r.Context(), chi.URLParam(r, "schema"))
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	respondJSON(w, res)
}

type activateModuleReq struct {
	Status   string          `json:"status"`
	Settings json.RawMessage `json:"settings"`
}

func (h Tenants) ActivateModule(w http.ResponseWriter, r *http.Request) {
	var req activateModuleReq
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	tenantID, moduleID := chi.URLParam(r, "id"), chi.URLParam(r, "moduleId")
	binding, err := h.Manager.ActivateModule(r.Context(), tenantID, moduleID, req.Status, req.Settings)
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	h.record(r, audit.ActionModuleActivate, tenantID, map[string]any{"module_id": moduleID, "status": binding.Status})
	respondJSON(w, binding)
}

func (h Tenants) Modules(w http.ResponseWriter, r *http.Request) {
	out, err := h.Manager.Modules(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	respondJSON(w, out)
}

func (h Tenants) Catalog(w http.ResponseWriter, r *http.Request) {
	out, err := h.Manager.Catalog(r.Context())
	if err != nil {
		respondError(w, r, h.Logger, err)
		return
	}
	respondJSON(w, out)
}

