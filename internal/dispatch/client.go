package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// PeerClient is the outbound call a Dispatcher makes to run code on a
// remote node (spec §4.6: POST peer's execute endpoint).
type PeerClient interface {
	Run(ctx context.Context, endpoint, code, bearerToken string) (remoteTaskID string, err error)
}

type restyPeerClient struct {
	http   *resty.Client
	scheme string
}

// NewRestyPeerClient builds a PeerClient with the 5s network timeout
// spec §4.6 requires. useTLS selects https for every peer call,
// matching spec.md's "shared bearer keys over (optional) TLS": a
// cluster runs either all-plaintext or all-TLS, following the local
// node's own TLS configuration.
func NewRestyPeerClient(useTLS bool) PeerClient {
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	return &restyPeerClient{http: resty.New().SetTimeout(5 * time.Second), scheme: scheme}
}

type runRequest struct {
	Code string `json:"code"`
}

type runResponse struct {
	TaskID string `json:"taskId"`
	Name   string `json:"name"`
}

func (c *restyPeerClient) Run(ctx context.Context, endpoint, code, bearerToken string) (string, error) {
	req := c.http.R().SetContext(ctx).SetBody(runRequest{Code: code})
	if bearerToken != "" {
		req.SetAuthToken(bearerToken)
	}
	var out runResponse
	req.SetResult(&out)

	resp, err := req.Post(c.scheme + "://" + endpoint + "/api/tasks/run")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("peer %s returned %s", endpoint, resp.Status())
	}
	return out.TaskID, nil
}
