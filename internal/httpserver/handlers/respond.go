package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"backoffice/internal/apperr"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, v interface{}) {
	respondStatus(w, http.StatusOK, v)
}

func respondStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// respondError renders err; internal failures are logged with their cause.
func respondError(w http.ResponseWriter, r *http.Request, lg *zap.SugaredLogger, err error) {
	if apperr.KindOf(err) == apperr.Internal {
		lg.Errorw("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
	}
	apperr.Write(w, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.E(apperr.BadRequest, "request body is required")
		}
		return apperr.Wrap(apperr.BadRequest, "invalid JSON body", err)
	}
	return nil
}
