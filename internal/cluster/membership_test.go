package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dagucloud/scriptd/internal/eventbus"
)

type fakeStats struct{}

func (fakeStats) TasksRunning() int   { return 0 }
func (fakeStats) TasksQueued() int    { return 0 }
func (fakeStats) TasksCompleted() int { return 0 }

type fakePeerClient struct {
	mu        sync.Mutex
	announced []string
}

func (f *fakePeerClient) Join(ctx context.Context, endpoint string, self NodeInfo) (bool, uint64, error) {
	return true, 1, nil
}
func (f *fakePeerClient) Nodes(ctx context.Context, endpoint string) (View, error) {
	return View{Nodes: map[string]NodeInfo{}}, nil
}
func (f *fakePeerClient) Heartbeat(ctx context.Context, endpoint string, self NodeInfo, v uint64) error {
	return nil
}
func (f *fakePeerClient) AnnounceLeader(ctx context.Context, endpoint, leaderID string, v uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, leaderID)
	return nil
}

func newTestMembership(nodeID string) *Membership {
	cfg := Config{NodeID: nodeID, NodeName: nodeID, Endpoint: nodeID + ":9000", HeartbeatTimeout: 200 * time.Millisecond}
	return New(cfg, fakeStats{}, &fakePeerClient{}, eventbus.New(nil), nil)
}

func TestSelfIsAlwaysOnline(t *testing.T) {
	m := newTestMembership("b")
	self := m.Self()
	if self.Status != StatusOnline {
		t.Fatalf("expected self status online, got %s", self.Status)
	}
}

func TestElectLeaderPicksLexicographicallySmallest(t *testing.T) {
	m := newTestMembership("b")
	m.HandleJoin(NodeInfo{ID: "a", Endpoint: "a:9000"})
	m.HandleJoin(NodeInfo{ID: "c", Endpoint: "c:9000"})

	view := m.View()
	if view.LeaderID != "a" {
		t.Fatalf("expected leader a, got %s", view.LeaderID)
	}
}

func TestVersionMonotonicallyIncreases(t *testing.T) {
	m := newTestMembership("b")
	v0 := m.View().Version

	m.HandleJoin(NodeInfo{ID: "a", Endpoint: "a:9000"})
	v1 := m.View().Version
	if v1 <= v0 {
		t.Fatalf("expected version to increase after join, %d -> %d", v0, v1)
	}

	m.HandleLeave("a")
	v2 := m.View().Version
	if v2 <= v1 {
		t.Fatalf("expected version to increase after leave, %d -> %d", v1, v2)
	}
}

func TestHeartbeatTimeoutDemotesLeaderAndReelects(t *testing.T) {
	m := newTestMembership("b")
	m.HandleJoin(NodeInfo{ID: "a", Endpoint: "a:9000"})
	m.HandleHeartbeat("a", Stats{})

	if m.View().LeaderID != "a" {
		t.Fatalf("expected a to be leader, got %s", m.View().LeaderID)
	}

	time.Sleep(250 * time.Millisecond)
	m.reconcile()

	view := m.View()
	if view.Nodes["a"].Status != StatusOffline {
		t.Fatal("expected a to be marked offline after heartbeat timeout")
	}
	if view.LeaderID != "b" {
		t.Fatalf("expected b to become leader after a times out, got %s", view.LeaderID)
	}
}

func TestHandleLeaderAnnouncementDoesNotOverrideLocalElection(t *testing.T) {
	m := newTestMembership("b")
	m.HandleJoin(NodeInfo{ID: "c", Endpoint: "c:9000"})
	before := m.View().LeaderID

	m.HandleLeaderAnnouncement("z-does-not-exist", 999)

	if m.View().LeaderID != before {
		t.Fatalf("expected leader announcement to be ignored, leader changed from %s to %s", before, m.View().LeaderID)
	}
}
