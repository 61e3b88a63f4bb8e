// Package nodeclient talks to the node daemon's local HTTP API. Calls are
// best-effort from the sweepers' point of view; a circuit breaker keeps a
// dead node from stalling every sweep on connection timeouts.
package nodeclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AddrLookup resolves a node ID to the daemon's base address.
type AddrLookup interface {
	NodeAddr(ctx context.Context, nodeID string) (string, error)
}

type Client interface {
	StopSandbox(ctx context.Context, nodeID, sandboxID string) error
}

type HTTPClient struct {
	httpCli *http.Client
	lookup  AddrLookup
	cb      *CircuitBreaker
}

func NewHTTPClient(lookup AddrLookup) *HTTPClient {
	if lookup == nil {
		panic("node address lookup is required")
	}
	return &HTTPClient{
		httpCli: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		lookup: lookup,
		cb:     NewCircuitBreaker(5, 30*time.Second),
	}
}

func (c *HTTPClient) StopSandbox(ctx context.Context, nodeID, sandboxID string) error {
	addr, err := c.lookup.NodeAddr(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("resolve node %s: %w", nodeID, err)
	}

	url := fmt.Sprintf("http://%s/v1/sandboxes/%s", addr, sandboxID)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	var resp *http.Response
	err = c.cb.Call(func() error {
		var err error
		resp, err = c.httpCli.Do(request)
		return err
	})
	if err != nil {
		return fmt.Errorf("stop sandbox %s on %s: %w", sandboxID, nodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("node %s returned status %d: %s", nodeID, resp.StatusCode, string(body))
	}
	return nil
}
