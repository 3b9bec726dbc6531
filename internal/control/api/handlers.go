// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/ManuGH/pipemgr/internal/health"
	"github.com/ManuGH/pipemgr/internal/pipeline/model"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds request bodies; file loads carry base64 payloads.
const maxBodyBytes = 64 << 20

type createRequest struct {
	ID     *int   `json:"id"`
	Launch string `json:"launch"`
	Config string `json:"config"`
}

type modifyRequest struct {
	Config string `json:"config"`
}

type channelRequest struct {
	Element string `json:"element"`
	Channel int    `json:"channel"`
}

type loadFileRequest struct {
	Path string `json:"path"`
	Data []byte `json:"data"` // base64 in JSON
	Mode uint32 `json:"mode"`
	Flag string `json:"flag"`
}

func (s *Server) checkPipelines(context.Context) health.Result {
	return health.Result{
		Status: health.StatusHealthy,
		Detail: strconv.Itoa(len(s.mgr.GetAll())) + " pipelines",
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string][]int{"ids": s.mgr.GetAll()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	id := s.mgr.NextID()
	if req.ID != nil {
		id = *req.ID
	}
	st := s.mgr.AddPipeline(r.Context(), id, req.Launch, req.Config)
	code := HTTPStatus(st)
	if st.OK() {
		code = http.StatusCreated
	}
	writeStatusCode(w, r, code, st, &id)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}
	info, found := s.mgr.Describe(id)
	if !found {
		writeStatus(w, r, model.StatusNotExist, &id)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}
	writeStatus(w, r, s.mgr.DeletePipeline(r.Context(), id), &id)
}

func (s *Server) handleRemoveAll(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, r, s.mgr.RemoveAll(r.Context()), nil)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}
	writeStatus(w, r, s.mgr.PlayPipeline(r.Context(), id), &id)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}
	writeStatus(w, r, s.mgr.PausePipeline(r.Context(), id), &id)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}
	st := s.mgr.StopPipeline(r.Context(), id)
	code := HTTPStatus(st)
	// Stopping after EOS or a runtime error still stops the pipeline.
	if st == model.StatusPipelineEOS || st == model.StatusRuntimeError {
		code = http.StatusOK
	}
	writeStatusCode(w, r, code, st, &id)
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}
	var req modifyRequest
	if !decode(w, r, &req) {
		return
	}
	writeStatus(w, r, s.mgr.ModifyPipeline(r.Context(), id, req.Config), &id)
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}
	var req channelRequest
	if !decode(w, r, &req) {
		return
	}
	writeStatus(w, r, s.mgr.SetChannel(r.Context(), id, req.Element, req.Channel), &id)
}

func (s *Server) handleLoadFile(w http.ResponseWriter, r *http.Request) {
	var req loadFileRequest
	if !decode(w, r, &req) {
		return
	}
	flag, ok := model.ParseFileFlag(req.Flag)
	if !ok {
		writeStatus(w, r, model.StatusInvalidParameter, nil)
		return
	}
	st := s.mgr.LoadFile(r.Context(), req.Data, req.Path, fs.FileMode(req.Mode).Perm(), flag)
	writeStatus(w, r, st, nil)
}

func (s *Server) handleUnloadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeStatus(w, r, model.StatusInvalidDstPath, nil)
		return
	}
	writeStatus(w, r, s.mgr.UnloadFile(r.Context(), path), nil)
}

func pipelineID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeStatus(w, r, model.StatusInvalidParameter, nil)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
