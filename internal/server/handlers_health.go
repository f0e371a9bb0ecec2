package server

import (
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/dagucloud/scriptd/internal/apierr"
)

// statsPayload is the shared body of GET /health and GET /stats (spec §6.3).
type statsPayload struct {
	ActiveTasks    int     `json:"activeTasks"`
	CompletedTasks int     `json:"completedTasks"`
	ErrorTasks     int     `json:"errorTasks"`
	QueueLength    int     `json:"queueLength"`
	Pid            int     `json:"pid"`
	MemoryMB       float64 `json:"memoryMB"`
	Uptime         float64 `json:"uptime"`
}

func (s *Server) currentStats() statsPayload {
	payload := statsPayload{
		ActiveTasks:    s.deps.Queue.TasksRunning(),
		CompletedTasks: s.deps.Queue.TasksCompleted(),
		ErrorTasks:     s.deps.Queue.TasksErrored(),
		QueueLength:    s.deps.Queue.TasksQueued(),
		Pid:            os.Getpid(),
		Uptime:         time.Since(s.deps.StartedAt).Seconds(),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			payload.MemoryMB = float64(info.RSS) / (1024 * 1024)
		}
	}
	return payload
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	statsPayload
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		OK:           true,
		Version:      s.deps.Version,
		statsPayload: s.currentStats(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentStats())
}

func (s *Server) handleClusterInfo(w http.ResponseWriter, r *http.Request) {
	if s.deps.Membership == nil {
		apierr.WriteJSON(w, apierr.Unavailable("clustering is disabled on this node", nil))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Membership.Self())
}
