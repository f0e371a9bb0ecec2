package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gopsutilcpu "github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/dagucloud/scriptd/internal/eventbus"
)

// Config is the static identity and timing configuration for a node's
// ClusterMembership (spec §4.5, §6.2).
type Config struct {
	NodeID            string
	NodeName          string
	Endpoint          string
	SeedNodes         []string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BearerToken       string
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	return c
}

// StatsSource supplies the local queue metrics folded into this node's
// heartbeat stats. Implemented by queue.Queue.
type StatsSource interface {
	TasksRunning() int
	TasksQueued() int
	TasksCompleted() int
}

// PeerClient is the outbound transport to other nodes' control planes.
// Implemented over resty in client.go.
type PeerClient interface {
	Join(ctx context.Context, endpoint string, self NodeInfo) (accepted bool, clusterVersion uint64, err error)
	Nodes(ctx context.Context, endpoint string) (View, error)
	Heartbeat(ctx context.Context, endpoint string, self NodeInfo, clusterVersion uint64) error
	AnnounceLeader(ctx context.Context, endpoint, leaderID string, clusterVersion uint64) error
}

// Membership implements the JOINING→ONLINE→OFFLINE state machine,
// heartbeat gossip and deterministic bully election (spec §4.5).
type Membership struct {
	cfg    Config
	log    *slog.Logger
	bus    *eventbus.Bus
	client PeerClient
	stats  StatsSource

	startedAt time.Time

	mu   sync.RWMutex
	view View
}

// New creates a Membership already registered as online:worker under
// its own id — "the local node's status is always online from its own
// view" (spec §3).
func New(cfg Config, stats StatsSource, client PeerClient, bus *eventbus.Bus, log *slog.Logger) *Membership {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	now := time.Now()
	self := NodeInfo{
		ID:            cfg.NodeID,
		Name:          cfg.NodeName,
		Endpoint:      cfg.Endpoint,
		Role:          RoleWorker,
		Status:        StatusOnline,
		JoinedAt:      now,
		LastHeartbeat: now,
	}
	return &Membership{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		client:    client,
		stats:     stats,
		startedAt: now,
		view:      View{Nodes: map[string]NodeInfo{cfg.NodeID: self}, Version: 1},
	}
}

// Self returns this node's own NodeInfo.
func (m *Membership) Self() NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view.Nodes[m.cfg.NodeID]
}

// View returns a snapshot of the local node's cluster view.
func (m *Membership) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cloneViewLocked()
}

func (m *Membership) cloneViewLocked() View {
	nodes := make(map[string]NodeInfo, len(m.view.Nodes))
	for id, n := range m.view.Nodes {
		nodes[id] = n
	}
	return View{LeaderID: m.view.LeaderID, Nodes: nodes, Version: m.view.Version}
}

// Run joins configured seeds, then loops the heartbeat/reconcile cycle
// until ctx is cancelled.
func (m *Membership) Run(ctx context.Context) error {
	m.join(ctx)
	m.refreshSelfStats()
	m.electLeader()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.refreshSelfStats()
			m.sendHeartbeats(ctx)
			m.reconcile()
		}
	}
}

// join contacts every seed endpoint, registers with it, and pulls its
// current membership list (spec §4.5).
func (m *Membership) join(ctx context.Context) {
	for _, seed := range m.cfg.SeedNodes {
		self := m.Self()

		joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		accepted, _, err := m.client.Join(joinCtx, seed, self)
		cancel()
		if err != nil {
			m.log.Warn("failed to join seed", "seed", seed, "error", err)
			continue
		}
		if !accepted {
			m.log.Warn("seed rejected join", "seed", seed)
			continue
		}

		nodesCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		remoteView, err := m.client.Nodes(nodesCtx, seed)
		cancel()
		if err != nil {
			m.log.Warn("failed to fetch seed's membership list", "seed", seed, "error", err)
			continue
		}
		m.mergeRemoteView(remoteView)
	}
}

func (m *Membership) mergeRemoteView(remote View) {
	m.mu.Lock()
	changed := false
	for id, n := range remote.Nodes {
		if id == m.cfg.NodeID {
			continue
		}
		if existing, ok := m.view.Nodes[id]; !ok || existing.LastHeartbeat.Before(n.LastHeartbeat) {
			m.view.Nodes[id] = n
			changed = true
		}
	}
	if changed {
		m.bumpVersionLocked()
	}
	m.mu.Unlock()
	if changed {
		m.electLeader()
	}
}

// HandleJoin registers a newly announced peer (spec §6.3 POST
// /api/cluster/join). The new node is presumed online:worker until its
// own heartbeats say otherwise.
func (m *Membership) HandleJoin(info NodeInfo) (accepted bool, clusterVersion uint64) {
	info.Status = StatusOnline
	info.Role = RoleWorker
	if info.JoinedAt.IsZero() {
		info.JoinedAt = time.Now()
	}
	info.LastHeartbeat = time.Now()

	m.mu.Lock()
	m.view.Nodes[info.ID] = info
	m.bumpVersionLocked()
	version := m.view.Version
	m.mu.Unlock()

	m.publishClusterEvent()
	m.electLeader()
	return true, version
}

// HandleLeave removes (marks offline) a peer that announced departure
// (spec §6.3 POST /api/cluster/leave).
func (m *Membership) HandleLeave(nodeID string) {
	m.mu.Lock()
	n, ok := m.view.Nodes[nodeID]
	if !ok || n.Status == StatusOffline {
		m.mu.Unlock()
		return
	}
	n.Status = StatusOffline
	m.view.Nodes[nodeID] = n
	m.bumpVersionLocked()
	m.mu.Unlock()

	m.publishClusterEvent()
	m.electLeader()
}

// HandleHeartbeat records a peer's heartbeat (spec §6.3 POST
// /api/cluster/heartbeat). `lastHeartbeat` uses the newer of two
// concurrent updates (spec §5); since handlers run on the HTTP
// listener's goroutines, the mutex provides the total order.
func (m *Membership) HandleHeartbeat(nodeID string, stats Stats) (ack bool, timestamp time.Time) {
	now := time.Now()

	m.mu.Lock()
	n, known := m.view.Nodes[nodeID]
	wasOffline := known && n.Status != StatusOnline
	if !known {
		n = NodeInfo{ID: nodeID, JoinedAt: now}
	}
	if n.LastHeartbeat.Before(now) {
		n.LastHeartbeat = now
		n.Stats = stats
	}
	n.Status = StatusOnline
	m.view.Nodes[nodeID] = n
	if !known || wasOffline {
		m.bumpVersionLocked()
	}
	m.mu.Unlock()

	if !known || wasOffline {
		m.publishClusterEvent()
		m.electLeader()
	}
	return true, now
}

// HandleLeaderAnnouncement acknowledges a peer's leader announcement
// without overriding the local deterministic election (spec §4.5, §9
// open question: "log and accept, recompute locally").
func (m *Membership) HandleLeaderAnnouncement(leaderID string, clusterVersion uint64) {
	m.log.Debug("received leader announcement, deferring to local election",
		"announced", leaderID, "remoteVersion", clusterVersion, "localLeader", m.View().LeaderID)
}

// reconcile marks nodes whose heartbeat is stale as offline (spec §4.5).
func (m *Membership) reconcile() {
	now := time.Now()

	m.mu.Lock()
	changed := false
	var leaderWentOffline bool
	for id, n := range m.view.Nodes {
		if id == m.cfg.NodeID {
			continue
		}
		if n.Status == StatusOffline {
			continue
		}
		if now.Sub(n.LastHeartbeat) > m.cfg.HeartbeatTimeout {
			n.Status = StatusOffline
			m.view.Nodes[id] = n
			changed = true
			if id == m.view.LeaderID {
				leaderWentOffline = true
			}
		}
	}
	if changed {
		m.bumpVersionLocked()
	}
	m.mu.Unlock()

	if changed {
		m.publishClusterEvent()
	}
	if changed || leaderWentOffline {
		m.electLeader()
	}
}

// electLeader recomputes the deterministic leader: the lexicographically
// smallest online node id (spec §4.5, §8).
func (m *Membership) electLeader() {
	m.mu.Lock()
	online := m.view.OnlineNodeIDs()
	if len(online) == 0 {
		m.mu.Unlock()
		return
	}
	newLeader := online[0]
	if newLeader == m.view.LeaderID {
		m.mu.Unlock()
		return
	}
	m.view.LeaderID = newLeader
	for id, n := range m.view.Nodes {
		if id == newLeader {
			n.Role = RoleLeader
		} else if n.Role == RoleLeader {
			n.Role = RoleWorker
		}
		m.view.Nodes[id] = n
	}
	m.bumpVersionLocked()
	version := m.view.Version
	peers := m.peerEndpointsLocked()
	m.mu.Unlock()

	m.publishClusterEvent()
	go m.announceLeader(peers, newLeader, version)
}

func (m *Membership) announceLeader(peers []string, leaderID string, version uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, endpoint := range peers {
		if err := m.client.AnnounceLeader(ctx, endpoint, leaderID, version); err != nil {
			m.log.Debug("leader announcement failed", "peer", endpoint, "error", err)
		}
	}
}

func (m *Membership) peerEndpointsLocked() []string {
	endpoints := make([]string, 0, len(m.view.Nodes))
	for id, n := range m.view.Nodes {
		if id == m.cfg.NodeID || n.Endpoint == "" {
			continue
		}
		endpoints = append(endpoints, n.Endpoint)
	}
	return endpoints
}

func (m *Membership) sendHeartbeats(ctx context.Context) {
	self := m.Self()
	m.mu.RLock()
	version := m.view.Version
	peers := m.peerEndpointsLocked()
	m.mu.RUnlock()

	for _, endpoint := range peers {
		endpoint := endpoint
		go func() {
			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := m.client.Heartbeat(hbCtx, endpoint, self, version); err != nil {
				m.log.Debug("heartbeat to peer failed", "peer", endpoint, "error", err)
			}
		}()
	}
}

func (m *Membership) refreshSelfStats() {
	stats := Stats{UptimeSeconds: int64(time.Since(m.startedAt).Seconds())}

	if percents, err := gopsutilcpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryMB = float64(vm.Used) / (1024 * 1024)
	}
	if m.stats != nil {
		stats.TasksRunning = m.stats.TasksRunning()
		stats.TasksQueued = m.stats.TasksQueued()
		stats.TasksCompleted = m.stats.TasksCompleted()
	}

	m.mu.Lock()
	self := m.view.Nodes[m.cfg.NodeID]
	self.Stats = stats
	self.LastHeartbeat = time.Now()
	self.Status = StatusOnline
	m.view.Nodes[m.cfg.NodeID] = self
	m.mu.Unlock()
}

// bumpVersionLocked must be called with m.mu held.
func (m *Membership) bumpVersionLocked() {
	m.view.Version++
}

func (m *Membership) publishClusterEvent() {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.TopicCluster, m.View())
}
