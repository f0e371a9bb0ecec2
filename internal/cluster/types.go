// Package cluster implements ClusterMembership (spec §3 NodeInfo /
// ClusterView, §4.5, §5, §8): peer discovery, gossip-by-heartbeat,
// failure detection and deterministic bully leader election.
package cluster

import (
	"sort"
	"time"
)

// Role is a node's current position in the cluster.
type Role string

const (
	RoleWorker Role = "worker"
	RoleLeader Role = "leader"
)

// Status is a node's last-known liveness as seen by the local node.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusBusy    Status = "busy"
)

// Stats carries the metrics a node reports on every heartbeat (spec §3).
type Stats struct {
	CPUPercent     float64 `json:"cpuPercent"`
	MemoryMB       float64 `json:"memoryMB"`
	TasksRunning   int     `json:"tasksRunning"`
	TasksQueued    int     `json:"tasksQueued"`
	TasksCompleted int     `json:"tasksCompleted"`
	UptimeSeconds  int64   `json:"uptimeSeconds"`
}

// NodeInfo is one cluster member as seen by the local node (spec §3).
type NodeInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Endpoint      string    `json:"endpoint"`
	Role          Role      `json:"role"`
	Status        Status    `json:"status"`
	JoinedAt      time.Time `json:"joinedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Stats         Stats     `json:"stats"`
}

// View is an immutable snapshot of the local node's picture of the
// cluster (spec §3 ClusterView).
type View struct {
	LeaderID string              `json:"leaderId,omitempty"`
	Nodes    map[string]NodeInfo `json:"nodes"`
	Version  uint64              `json:"version"`
}

// Leader returns the leader's NodeInfo and whether one is known.
func (v View) Leader() (NodeInfo, bool) {
	if v.LeaderID == "" {
		return NodeInfo{}, false
	}
	n, ok := v.Nodes[v.LeaderID]
	return n, ok
}

// OnlineNodeIDs returns the ids of every node currently considered
// online, sorted lexicographically.
func (v View) OnlineNodeIDs() []string {
	ids := make([]string, 0, len(v.Nodes))
	for id, n := range v.Nodes {
		if n.Status == StatusOnline || n.Status == StatusBusy {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
