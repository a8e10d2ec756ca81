// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package dashboard

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/stagehand-ops/stagehand/internal/db"
	"github.com/stagehand-ops/stagehand/internal/instance"
	"github.com/stagehand-ops/stagehand/internal/jobs"
	"github.com/stagehand-ops/stagehand/internal/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONResponse(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warnf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSONResponse(w, code, errorResponse{Error: err.Error()})
}

// statusFor maps package errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrDuplicate), errors.Is(err, jobs.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, instance.ErrInvalidName),
		errors.Is(err, instance.ErrInvalidOption),
		errors.Is(err, jobs.ErrUnknownAction),
		errors.Is(err, jobs.ErrArgNotAllowed),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logging.Errorf("dashboard: %v", err)
	}
	writeError(w, code, err)
}

var errBadRequest = errors.New("bad request")

// requireJSON rejects writes that are not declared as JSON. Browsers only
// send application/json cross-origin after a preflight, which the
// dashboard never answers.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				writeError(w, http.StatusUnsupportedMediaType, errors.New("content type must be application/json"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// decodeBody reads one JSON object, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
