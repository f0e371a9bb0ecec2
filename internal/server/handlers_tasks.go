package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dagucloud/scriptd/internal/apierr"
	"github.com/dagucloud/scriptd/internal/script"
)

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	scripts := s.deps.Registry.List()
	out := make([]script.Snapshot, 0, len(scripts))
	for _, sc := range scripts {
		out = append(out, sc.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "*")
	sc, ok := s.deps.Registry.Get(script.NormalizeIdentity(identity))
	if !ok {
		// identity may already be normalized (e.g. an inline: id).
		sc, ok = s.deps.Registry.Get(identity)
	}
	if !ok {
		apierr.WriteJSON(w, apierr.NotFound("unknown script"))
		return
	}
	writeJSON(w, http.StatusOK, sc.Snapshot())
}

type taskRunRequest struct {
	Code string `json:"code,omitempty"`
	File string `json:"file,omitempty"`
	Name string `json:"name,omitempty"`
}

type taskRunResponse struct {
	TaskID string `json:"taskId"`
	Name   string `json:"name"`
}

func (s *Server) handleTaskRun(w http.ResponseWriter, r *http.Request) {
	var req taskRunRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, apierr.Validation("invalid JSON body"))
		return
	}

	var sc *script.Script
	switch {
	case req.File != "":
		identity := script.NormalizeIdentity(req.File)
		existing, ok := s.deps.Registry.Get(identity)
		if !ok {
			apierr.WriteJSON(w, apierr.NotFound("unknown script file"))
			return
		}
		sc = existing
	case req.Code != "":
		name := req.Name
		if name == "" {
			name = "inline"
		}
		sc = s.deps.Registry.UpsertInline(name, req.Code)
	default:
		apierr.WriteJSON(w, apierr.Validation("one of code or file is required"))
		return
	}

	taskID, err := s.deps.Queue.Enqueue(sc.Identity(), sc.Body())
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskRunResponse{TaskID: taskID, Name: sc.Name()})
}

type taskScheduleRequest struct {
	Code     string `json:"code,omitempty"`
	File     string `json:"file,omitempty"`
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule"`
}

// handleTaskSchedule materializes a new scheduled script file in the
// watched directory; the ScriptWatcher picks it up and the registry
// arms its schedule the same way it would for a file dropped in by hand.
func (s *Server) handleTaskSchedule(w http.ResponseWriter, r *http.Request) {
	var req taskScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, apierr.Validation("invalid JSON body"))
		return
	}
	if req.Schedule == "" {
		apierr.WriteJSON(w, apierr.Validation("schedule is required"))
		return
	}

	body := req.Code
	if req.File != "" {
		data, err := os.ReadFile(req.File)
		if err != nil {
			apierr.WriteJSON(w, apierr.Validation("cannot read source file: "+err.Error()))
			return
		}
		body = string(data)
	}
	if body == "" {
		apierr.WriteJSON(w, apierr.Validation("one of code or file is required"))
		return
	}

	name := req.Name
	if name == "" {
		name = "scheduled"
	}
	dest := filepath.Join(s.deps.WatchDir, name+s.deps.WatchExtension)
	content := fmt.Sprintf("// @schedule %s\n%s", req.Schedule, body)
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		apierr.WriteJSON(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": dest})
}

func (s *Server) handleTaskStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.deps.Queue.Stop(id) {
		apierr.WriteJSON(w, apierr.NotFound("no active task with that id"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) handleLogsTail(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	level := r.URL.Query().Get("level")
	task := r.URL.Query().Get("task")

	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Logs.List(limit, level, task))
}
