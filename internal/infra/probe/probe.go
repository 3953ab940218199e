// Package probe checks endpoint liveness out of band. Streaming endpoints
// are probed over plain HTTP JSON-RPC: providers that serve a websocket feed
// answer the same JSON-RPC methods on the matching http(s) URL, so a cheap
// request tells whether the node is back without opening a subscription.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/pkg/transport/http"
	"github.com/gabapcia/mempoolwatch/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/mempoolwatch/internal/txingest"
)

// probeMethod is cheap, side-effect free, and supported by every
// Ethereum-compatible node.
const probeMethod = "web3_clientVersion"

// Prober performs liveness probes against streaming endpoints.
type Prober struct {
	timeout time.Duration
}

// Compile-time assertion that Prober implements the prober port.
var _ txingest.EndpointProber = (*Prober)(nil)

// New creates a prober whose individual requests are bounded by timeout.
func New(timeout time.Duration) *Prober {
	return &Prober{timeout: timeout}
}

// Probe sends one JSON-RPC request to the HTTP form of the endpoint. A nil
// return means the node answered.
func (p *Prober) Probe(ctx context.Context, endpoint string) error {
	client := jsonrpc.NewClient(
		http.NewClient(http.WithTimeout(p.timeout), http.WithRetryMax(1)).StandardClient(),
		httpEndpoint(endpoint),
	)

	if _, err := client.Fetch(ctx, probeMethod); err != nil {
		return fmt.Errorf("probing %s: %w", endpoint, err)
	}

	return nil
}

// httpEndpoint rewrites a websocket URL to its HTTP counterpart. Non-ws URLs
// pass through unchanged.
func httpEndpoint(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "wss://"):
		return "https://" + strings.TrimPrefix(endpoint, "wss://")
	case strings.HasPrefix(endpoint, "ws://"):
		return "http://" + strings.TrimPrefix(endpoint, "ws://")
	default:
		return endpoint
	}
}
