package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dagucloud/scriptd/internal/apierr"
	"github.com/dagucloud/scriptd/internal/auth"
)

type keyCreateRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

func (s *Server) handleKeysCreate(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		apierr.WriteJSON(w, apierr.Validation("name is required"))
		return
	}

	perms := make([]auth.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		perm, err := auth.ParsePermission(p)
		if err != nil {
			apierr.WriteJSON(w, apierr.Validation(err.Error()))
			return
		}
		perms = append(perms, perm)
	}
	if len(perms) == 0 {
		perms = append(perms, auth.PermRead)
	}

	token, err := auth.GenerateToken()
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal(err))
		return
	}
	key, err := auth.NewAPIKey(req.Name, auth.NewPermissionSet(perms...), token)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal(err))
		return
	}
	if err := s.deps.Auth.Create(r.Context(), key); err != nil {
		apierr.WriteJSON(w, apierr.Validation(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, auth.GeneratedKey{Token: token, Key: key})
}

func (s *Server) handleKeysList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.Auth.List(r.Context())
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal(err))
		return
	}
	type maskedKey struct {
		*auth.APIKey
		Masked string `json:"masked"`
	}
	out := make([]maskedKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, maskedKey{APIKey: k, Masked: k.Masked()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleKeysDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "key")
	if err := s.deps.Auth.Delete(r.Context(), id); err != nil {
		apierr.WriteJSON(w, apierr.NotFound("unknown API key"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleDaemonReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reload == nil {
		apierr.WriteJSON(w, apierr.Unavailable("reload is not wired on this daemon", nil))
		return
	}
	if err := s.deps.Reload(r.Context()); err != nil {
		apierr.WriteJSON(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": true})
}
