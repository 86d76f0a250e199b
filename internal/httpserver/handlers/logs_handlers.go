package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"backoffice/internal/apperr"
	"backoffice/internal/audit"
	"backoffice/internal/ids"
)

// AuditLogs lists stored audit events, newest first.
func AuditLogs(sink *audit.GormSink, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := audit.ListFilter{
			TenantID: q.Get("tenant_id"),
			UserID:   q.Get("user_id"),
			Action:   q.Get("action"),
		}
		for _, p := range []struct {
			name string
			v    *string
		}{{"tenant_id", &f.TenantID}, {"user_id", &f.UserID}} {
			if *p.v == "" {
				continue
			}
			id, ok := ids.ParseUUID(*p.v)
			if !ok {
				respondError(w, r, lg, apperr.E(apperr.BadRequest, p.name+" must be a uuid"))
				return
			}
			*p.v = id
		}
		var err error
		if v := q.Get("limit"); v != "" {
			if f.Limit, err = strconv.Atoi(v); err != nil {
				respondError(w, r, lg, apperr.E(apperr.BadRequest, "limit must be a number"))
				return
			}
		}
		if v := q.Get("offset"); v != "" {
			if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
				respondError(w, r, lg, apperr.E(apperr.BadRequest, "offset must be a non-negative number"))
				return
			}
		}
		logs, err := sink.List(r.Context(), f)
		if err != nil {
			respondError(w, r, lg, apperr.Wrap(apperr.Internal, "list audit logs", err))
			return
		}
		respondJSON(w, logs)
	}
}
