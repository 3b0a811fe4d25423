package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.runs.Len(),
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Workflow())
}

func (s *Server) handlePutWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	wf, err := model.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.LoadWorkflow(wf); err != nil {
		writeError(w, http.StatusBadRequest, fault.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": len(wf.Nodes),
		"edges": len(wf.Edges),
	})
}

// handleStartRun launches a run in the background. The body is a workflow
// document, or empty to run the stored one. Responds 202 with the run id;
// progress is observed via GET /api/runs/{id} or the events stream.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	var wf *model.Workflow
	if len(bytes.TrimSpace(body)) > 0 {
		wf, err = model.Decode(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		wf = s.store.Workflow()
		if len(wf.Nodes) == 0 {
			writeError(w, http.StatusBadRequest, "no workflow in the request and none stored")
			return
		}
	}

	runID, err := s.StartRun(wf)
	if err != nil {
		writeError(w, http.StatusBadRequest, fault.Message(err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, entry.Exec.State().Snapshot())
}

func (s *Server) handleAbortRun(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	entry.Abort()
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborting"})
}

func (s *Server) handlePauseRun(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	entry.Exec.State().Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	entry.Exec.State().Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, entry.Bcast)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeError(w, http.StatusServiceUnavailable, "artifact store not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.artifacts.List(r.URL.Query().Get("category")))
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeError(w, http.StatusServiceUnavailable, "artifact store not configured")
		return
	}
	meta, blob, err := s.artifacts.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), fault.Message(err))
		return
	}
	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeError(w, http.StatusServiceUnavailable, "artifact store not configured")
		return
	}
	if err := s.artifacts.Delete(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), fault.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// lookupRun resolves the {id} path value or writes the 404.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*runEntry, bool) {
	id := r.PathValue("id")
	entry, ok := s.runs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run "+id+" not found")
		return nil, false
	}
	return entry, true
}

// statusFor maps a fault kind to an HTTP status. Missing ids surface as
// InvalidInput from the stores, which over HTTP is a 404.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.InvalidInput:
		return http.StatusNotFound
	case fault.StorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
