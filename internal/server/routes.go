package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dagucloud/scriptd/internal/auth"
)

func (s *Server) configureRoutes() {
	r := s.mux

	// Health / discovery — no auth (spec §6.3).
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/api/cluster/info", s.handleClusterInfo)
	r.Get("/ws", s.handleWS)

	// Tasks — read.
	r.Group(func(r chi.Router) {
		r.Use(s.requirePermission(auth.PermRead))
		r.Get("/api/tasks", s.handleTasksList)
		r.Get("/api/tasks/*", s.handleTaskGet)
		r.Get("/api/logs", s.handleLogsTail)
	})

	// Tasks — execute.
	r.Group(func(r chi.Router) {
		r.Use(s.requirePermission(auth.PermExecute))
		r.Post("/api/tasks/run", s.handleTaskRun)
		r.Post("/api/tasks/schedule", s.handleTaskSchedule)
		r.Post("/api/tasks/{id}/stop", s.handleTaskStop)
	})

	// Cluster — read.
	r.Group(func(r chi.Router) {
		r.Use(s.requirePermission(auth.PermRead))
		r.Get("/api/cluster/nodes", s.handleClusterNodes)
		r.Get("/api/cluster/leader", s.handleClusterLeader)
		r.Get("/api/dispatch/history", s.handleDispatchHistory)
		r.Get("/api/dispatch/config", s.handleDispatchConfig)
	})

	// Cluster — execute (includes the peer-to-peer gossip protocol
	// itself). daemon.setupCluster builds the membership peer client
	// with no bearer token, so with auth enabled a peer's join,
	// heartbeat and leader calls to these routes are answered 401.
	r.Group(func(r chi.Router) {
		r.Use(s.requirePermission(auth.PermExecute))
		r.Post("/api/cluster/join", s.handleClusterJoin)
		r.Post("/api/cluster/leave", s.handleClusterLeave)
		r.Post("/api/cluster/heartbeat", s.handleClusterHeartbeat)
		r.Post("/api/cluster/leader", s.handleClusterLeaderAnnounce)
		r.Post("/api/dispatch", s.handleDispatch)
		r.Post("/api/dispatch/broadcast", s.handleDispatchBroadcast)
	})

	// Admin.
	r.Group(func(r chi.Router) {
		r.Use(s.requirePermission(auth.PermAdmin))
		r.Post("/api/keys", s.handleKeysCreate)
		r.Get("/api/keys", s.handleKeysList)
		r.Delete("/api/keys/{key}", s.handleKeysDelete)
		r.Post("/api/daemon/reload", s.handleDaemonReload)
	})

	if s.cfg.DashboardDir != "" {
		fileServer := http.FileServer(http.Dir(s.cfg.DashboardDir))
		r.Handle("/*", fileServer)
	}

	r.NotFound(s.handleNotFound)
}

// handleNotFound returns a discovery hint listing the canonical
// endpoints, per spec §4.7.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error":   "Not Found",
		"message": "unknown route",
		"routes": []string{
			"GET /health", "GET /stats", "GET /api/cluster/info", "GET /ws",
			"GET /api/tasks", "GET /api/tasks/{id}", "GET /api/logs",
			"POST /api/tasks/run", "POST /api/tasks/schedule", "POST /api/tasks/{id}/stop",
			"GET /api/cluster/nodes", "GET /api/cluster/leader",
			"POST /api/cluster/join", "POST /api/cluster/leave",
			"POST /api/cluster/heartbeat", "POST /api/cluster/leader",
			"POST /api/dispatch", "POST /api/dispatch/broadcast",
			"GET /api/dispatch/history", "GET /api/dispatch/config",
			"POST /api/keys", "GET /api/keys", "DELETE /api/keys/{key}",
			"POST /api/daemon/reload",
		},
	})
}
