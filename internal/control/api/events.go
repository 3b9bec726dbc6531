// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/pipeline/bus"
)

// handleEvents streams pipeline events as server-sent events. The optional
// "id" query parameter filters to one pipeline.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter := -1
	if v := r.URL.Query().Get("id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid id filter")
			return
		}
		filter = id
	}

	ctx := r.Context()
	sub, err := s.mgr.Events().Subscribe(ctx, bus.TopicPipelineEvents)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}
	defer func() { _ = sub.Close() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := log.WithComponentFromContext(ctx, "api")
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if filter >= 0 && ev.PipelineID != filter {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Debug().Err(err).Msg("encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
