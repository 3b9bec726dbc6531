// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/pipeline/model"
)

// StatusBody is returned by every pipeline and file operation.
type StatusBody struct {
	ID     *int   `json:"id,omitempty"`
	Status string `json:"status"`
	Code   int    `json:"code"`
}

// HTTPStatus maps a manager status onto an HTTP status code.
func HTTPStatus(st model.Status) int {
	switch st {
	case model.StatusSuccess:
		return http.StatusOK
	case model.StatusNotExist:
		return http.StatusNotFound
	case model.StatusInvalidParameter, model.StatusInvalidDstPath:
		return http.StatusBadRequest
	case model.StatusCommTimeout:
		return http.StatusGatewayTimeout
	case model.StatusError:
		return http.StatusBadGateway
	default:
		// ALREADY_*, NOT_PLAYING, STOPPED, PIPELINE_EOS, RUNTIME_ERROR,
		// FILE_ALREADY_EXIST: the pipeline is in the wrong state.
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Debug().Err(err).Msg("write response")
	}
}

func writeStatus(w http.ResponseWriter, r *http.Request, st model.Status, id *int) {
	writeStatusCode(w, r, HTTPStatus(st), st, id)
}

func writeStatusCode(w http.ResponseWriter, r *http.Request, code int, st model.Status, id *int) {
	writeJSON(w, r, code, StatusBody{ID: id, Status: st.String(), Code: int(st)})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, r, code, map[string]string{
		"error":     msg,
		"requestId": log.RequestIDFromContext(r.Context()),
	})
}
