package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"backoffice/internal/account"
	"backoffice/internal/apperr"
	"backoffice/internal/auth"
	"backoffice/internal/tenancy"
)

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginFunc func(svc *account.Service, r *http.Request, req loginReq) (*account.LoginResult, error)

func login(svc *account.Service, lg *zap.SugaredLogger, fn loginFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		res, err := fn(svc, r, req)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, res)
	}
}

// Login authenticates a tenant user. The tenant comes from the resolver.
func Login(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return login(svc, lg, func(svc *account.Service, r *http.Request, req loginReq) (*account.LoginResult, error) {
		return svc.UserLogin(r.Context(), req.Username, req.Password)
	})
}

// TenantLogin authenticates a tenant administrator of the tenant in the path.
func TenantLogin(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return login(svc, lg, func(svc *account.Service, r *http.Request, req loginReq) (*account.LoginResult, error) {
		if err := requirePathTenant(r); err != nil {
			return nil, err
		}
		return svc.TenantAdminLogin(r.Context(), req.Username, req.Password)
	})
}

func SystemLogin(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return login(svc, lg, func(svc *account.Service, r *http.Request, req loginReq) (*account.LoginResult, error) {
		return svc.SystemLogin(r.Context(), req.Username, req.Password)
	})
}

// requirePathTenant rejects requests whose resolved tenant differs from the
// {tenantId} path parameter.
func requirePathTenant(r *http.Request) error {
	id, ok := tenancy.TenantID(r.Context())
	if !ok {
		return apperr.E(apperr.BadRequest, "tenant could not be resolved")
	}
	if p := chi.URLParam(r, "tenantId"); p != "" && p != id {
		return apperr.E(apperr.BadRequest, "tenant in path does not match request tenant")
	}
	return nil
}

type refreshReq struct {
	Token string `json:"token"`
}

// Refresh exchanges a refresh token. scope builds the accepted levels and
// tenant from the request.
func Refresh(svc *account.Service, lg *zap.SugaredLogger, scope func(r *http.Request) account.RefreshScope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshReq
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		if req.Token == "" {
			respondError(w, r, lg, apperr.E(apperr.BadRequest, "token is required"))
			return
		}
		pair, err := svc.Refresh(r.Context(), req.Token, scope(r))
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, pair)
	}
}

// UserRefreshScope accepts tenant-scoped tokens of the resolved tenant, if any.
func UserRefreshScope(r *http.Request) account.RefreshScope {
	id, _ := tenancy.TenantID(r.Context())
	return account.RefreshScope{Levels: account.TenantLevels, TenantID: id}
}

// TenantRefreshScope accepts tenant-scoped tokens of the tenant in the path.
func TenantRefreshScope(r *http.Request) account.RefreshScope {
	return account.RefreshScope{Levels: account.TenantLevels, TenantID: chi.URLParam(r, "tenantId")}
}

func SystemRefreshScope(*http.Request) account.RefreshScope {
	return account.SystemRefresh
}

func Logout(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := svc.Profile(r.Context())
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		svc.Logout(r.Context(), u)
		respondJSON(w, map[string]any{"message": "logged out"})
	}
}

func Profile(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := svc.Profile(r.Context())
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, u)
	}
}

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func ChangePassword(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := auth.FromContext(r.Context())
		if !ok {
			respondError(w, r, lg, apperr.E(apperr.Unauthorized, "authentication required"))
			return
		}
		var req changePasswordReq
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		if err := svc.ChangePassword(r.Context(), u, req.CurrentPassword, req.NewPassword); err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, map[string]any{"message": "password changed"})
	}
}
