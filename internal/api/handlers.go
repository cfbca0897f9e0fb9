package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mikeyg42/circlecam/internal/fault"
	"github.com/mikeyg42/circlecam/internal/render"
	"github.com/mikeyg42/circlecam/internal/state"
)

const maxParamsBody = 1 << 16

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := webFS.ReadFile("web/index.html")
	if err != nil {
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.app.Telemetry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"loopState":   snap.LoopState,
		"visionReady": snap.VisionReady,
		"streamReady": snap.StreamReady,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Telemetry.Snapshot())
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Params.Snapshot())
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	var u state.Update
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid parameters: " + err.Error()})
		return
	}
	p, err := s.app.Params.Apply(u)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.hub.BroadcastParams(p)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.camera.Devices()
	if err != nil {
		writeCameraError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":     devices,
		"constraints": s.camera.Constraints(),
	})
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if err := s.camera.Switch(r.Context()); err != nil {
		s.logger.Warn("Camera switch failed", zap.Error(err))
		writeCameraError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Telemetry.Snapshot())
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.camera.Retry(r.Context()); err != nil {
		writeCameraError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Telemetry.Snapshot())
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.surface.EncodeJPEG(&buf, s.cfg.JPEGQuality); err != nil {
		if errors.Is(err, render.ErrNoFrame) {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}
		s.logger.Warn("JPEG encode failed", zap.Error(err))
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// writeCameraError maps an acquisition failure to an HTTP status.
func writeCameraError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.PermissionDenied, fault.UnsupportedContext:
		status = http.StatusForbidden
	case fault.NoDevice:
		status = http.StatusNotFound
	case fault.DeviceBusy:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Error: fault.Message(kind), ErrorKind: kind})
}
