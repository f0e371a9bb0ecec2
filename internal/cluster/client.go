package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// restyPeerClient implements PeerClient over the peer control-plane REST
// surface (spec §6.3), the way TaskDispatcher and ClusterMembership both
// reach peers with a single shared resty.Client.
type restyPeerClient struct {
	http   *resty.Client
	scheme string
}

// NewRestyPeerClient builds a PeerClient with a 5s network timeout
// (spec §5: "all outbound peer requests have a 5 s network timeout")
// and the given bearer token attached to every request, if non-empty.
// useTLS selects https for every peer call, matching spec.md's "shared
// bearer keys over (optional) TLS": a cluster runs either all-plaintext
// or all-TLS, following the local node's own TLS configuration.
func NewRestyPeerClient(bearerToken string, useTLS bool) PeerClient {
	c := resty.New().SetTimeout(5 * time.Second)
	if bearerToken != "" {
		c.SetAuthToken(bearerToken)
	}
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	return &restyPeerClient{http: c, scheme: scheme}
}

type joinRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Host string `json:"host"`
}

type joinResponse struct {
	Accepted       bool   `json:"accepted"`
	ClusterVersion uint64 `json:"clusterVersion"`
}

func (c *restyPeerClient) Join(ctx context.Context, endpoint string, self NodeInfo) (bool, uint64, error) {
	var out joinResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(joinRequest{ID: self.ID, Name: self.Name, Host: self.Endpoint}).
		SetResult(&out).
		Post(c.url(endpoint, "/api/cluster/join"))
	if err != nil {
		return false, 0, err
	}
	if resp.IsError() {
		return false, 0, fmt.Errorf("join rejected by %s: %s", endpoint, resp.Status())
	}
	return out.Accepted, out.ClusterVersion, nil
}

type nodesResponse struct {
	LeaderID string              `json:"leaderId"`
	Nodes    map[string]NodeInfo `json:"nodes"`
	Version  uint64              `json:"version"`
}

func (c *restyPeerClient) Nodes(ctx context.Context, endpoint string) (View, error) {
	var out nodesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.url(endpoint, "/api/cluster/nodes"))
	if err != nil {
		return View{}, err
	}
	if resp.IsError() {
		return View{}, fmt.Errorf("fetching nodes from %s: %s", endpoint, resp.Status())
	}
	return View{LeaderID: out.LeaderID, Nodes: out.Nodes, Version: out.Version}, nil
}

type heartbeatRequest struct {
	NodeID         string `json:"nodeId"`
	Stats          Stats  `json:"stats"`
	ClusterVersion uint64 `json:"clusterVersion,omitempty"`
}

func (c *restyPeerClient) Heartbeat(ctx context.Context, endpoint string, self NodeInfo, clusterVersion uint64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(heartbeatRequest{NodeID: self.ID, Stats: self.Stats, ClusterVersion: clusterVersion}).
		Post(c.url(endpoint, "/api/cluster/heartbeat"))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("heartbeat to %s: %s", endpoint, resp.Status())
	}
	return nil
}

type leaderAnnouncement struct {
	LeaderID       string `json:"leaderId"`
	ClusterVersion uint64 `json:"clusterVersion"`
}

func (c *restyPeerClient) AnnounceLeader(ctx context.Context, endpoint, leaderID string, clusterVersion uint64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(leaderAnnouncement{LeaderID: leaderID, ClusterVersion: clusterVersion}).
		Post(c.url(endpoint, "/api/cluster/leader"))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("leader announcement to %s: %s", endpoint, resp.Status())
	}
	return nil
}

func (c *restyPeerClient) url(endpoint, path string) string {
	return c.scheme + "://" + endpoint + path
}
