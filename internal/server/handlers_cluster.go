package server

import (
	"net/http"
	"time"

	"github.com/dagucloud/scriptd/internal/apierr"
	"github.com/dagucloud/scriptd/internal/cluster"
	"github.com/dagucloud/scriptd/internal/dispatch"
)

func (s *Server) clusteringDisabled(w http.ResponseWriter) bool {
	if s.deps.Membership == nil {
		apierr.WriteJSON(w, apierr.Unavailable("clustering is disabled on this node", nil))
		return true
	}
	return false
}

type clusterNodesResponse struct {
	Nodes          map[string]cluster.NodeInfo `json:"nodes"`
	LeaderID       string                      `json:"leaderId"`
	ClusterVersion uint64                      `json:"clusterVersion"`
}

func (s *Server) handleClusterNodes(w http.ResponseWriter, r *http.Request) {
	if s.clusteringDisabled(w) {
		return
	}
	view := s.deps.Membership.View()
	writeJSON(w, http.StatusOK, clusterNodesResponse{
		Nodes:          view.Nodes,
		LeaderID:       view.LeaderID,
		ClusterVersion: view.Version,
	})
}

func (s *Server) handleClusterLeader(w http.ResponseWriter, r *http.Request) {
	if s.clusteringDisabled(w) {
		return
	}
	view := s.deps.Membership.View()
	leader, ok := view.Leader()
	if !ok {
		apierr.WriteJSON(w, apierr.Unavailable("no leader currently elected", nil))
		return
	}
	writeJSON(w, http.StatusOK, leader)
}

type clusterJoinRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Host string `json:"host"`
}

type clusterJoinResponse struct {
	Accepted       bool   `json:"accepted"`
	ClusterVersion uint64 `json:"clusterVersion"`
}

func (s *Server) handleClusterJoin(w http.ResponseWriter, r *http.Request) {
	if s.clusteringDisabled(w) {
		return
	}
	var req clusterJoinRequest
	if err := decodeJSON(r, &req); err != nil || req.ID == "" {
		apierr.WriteJSON(w, apierr.Validation("id is required"))
		return
	}
	info := cluster.NodeInfo{
		ID:       req.ID,
		Name:     req.Name,
		Endpoint: req.Host,
		Role:     cluster.RoleWorker,
		Status:   cluster.StatusOnline,
	}
	accepted, version := s.deps.Membership.HandleJoin(info)
	writeJSON(w, http.StatusOK, clusterJoinResponse{Accepted: accepted, ClusterVersion: version})
}

type clusterLeaveRequest struct {
	NodeID string `json:"nodeId"`
}

func (s *Server) handleClusterLeave(w http.ResponseWriter, r *http.Request) {
	if s.clusteringDisabled(w) {
		return
	}
	var req clusterLeaveRequest
	if err := decodeJSON(r, &req); err != nil || req.NodeID == "" {
		apierr.WriteJSON(w, apierr.Validation("nodeId is required"))
		return
	}
	s.deps.Membership.HandleLeave(req.NodeID)
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

type clusterHeartbeatRequest struct {
	NodeID         string         `json:"nodeId"`
	Stats          cluster.Stats  `json:"stats"`
	ClusterVersion *uint64        `json:"clusterVersion,omitempty"`
}

type clusterHeartbeatResponse struct {
	Ack       bool      `json:"ack"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleClusterHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.clusteringDisabled(w) {
		return
	}
	var req clusterHeartbeatRequest
	if err := decodeJSON(r, &req); err != nil || req.NodeID == "" {
		apierr.WriteJSON(w, apierr.Validation("nodeId is required"))
		return
	}
	ack, ts := s.deps.Membership.HandleHeartbeat(req.NodeID, req.Stats)
	writeJSON(w, http.StatusOK, clusterHeartbeatResponse{Ack: ack, Timestamp: ts})
}

type clusterLeaderAnnouncementRequest struct {
	LeaderID       string `json:"leaderId"`
	ClusterVersion uint64 `json:"clusterVersion"`
}

// handleClusterLeaderAnnounce acknowledges a peer's leader announcement
// without adopting it — the receiver always recomputes its own leader
// deterministically (spec §4.5).
func (s *Server) handleClusterLeaderAnnounce(w http.ResponseWriter, r *http.Request) {
	if s.clusteringDisabled(w) {
		return
	}
	var req clusterLeaderAnnouncementRequest
	if err := decodeJSON(r, &req); err != nil || req.LeaderID == "" {
		apierr.WriteJSON(w, apierr.Validation("leaderId is required"))
		return
	}
	s.deps.Membership.HandleLeaderAnnouncement(req.LeaderID, req.ClusterVersion)
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

type dispatchRequest struct {
	Code         string           `json:"code"`
	Strategy     dispatch.Strategy `json:"strategy,omitempty"`
	TargetNodeID string           `json:"targetNodeId,omitempty"`
	Priority     int              `json:"priority,omitempty"`
	APIKey       string           `json:"apiKey,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		apierr.WriteJSON(w, apierr.Unavailable("clustering is disabled on this node", nil))
		return
	}
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		apierr.WriteJSON(w, apierr.Validation("code is required"))
		return
	}
	rec, err := s.deps.Dispatcher.Dispatch(r.Context(), dispatch.Request{
		Code:         req.Code,
		Strategy:     req.Strategy,
		TargetNodeID: req.TargetNodeID,
		Priority:     req.Priority,
		BearerToken:  req.APIKey,
	})
	if err != nil {
		apierr.WriteJSON(w, apierr.Network("dispatch failed", err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type dispatchBroadcastRequest struct {
	Code   string `json:"code"`
	APIKey string `json:"apiKey,omitempty"`
}

func (s *Server) handleDispatchBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		apierr.WriteJSON(w, apierr.Unavailable("clustering is disabled on this node", nil))
		return
	}
	var req dispatchBroadcastRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		apierr.WriteJSON(w, apierr.Validation("code is required"))
		return
	}
	results := s.deps.Dispatcher.Broadcast(r.Context(), dispatch.Request{Code: req.Code, BearerToken: req.APIKey})
	writeJSON(w, http.StatusOK, results)
}

type dispatchHistoryResponse struct {
	Records []dispatch.Record `json:"records"`
	Total   int               `json:"total"`
	Success int               `json:"success"`
	Errors  int               `json:"errors"`
}

func (s *Server) handleDispatchHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		apierr.WriteJSON(w, apierr.Unavailable("clustering is disabled on this node", nil))
		return
	}
	records := s.deps.Dispatcher.History()
	resp := dispatchHistoryResponse{Records: records, Total: len(records)}
	for _, rec := range records {
		if rec.Outcome == dispatch.OutcomeSuccess {
			resp.Success++
		} else {
			resp.Errors++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDispatchConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		apierr.WriteJSON(w, apierr.Unavailable("clustering is disabled on this node", nil))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Dispatcher.Config())
}
