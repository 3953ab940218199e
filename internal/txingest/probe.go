package txingest

import "context"

// EndpointProber checks whether an endpoint's node is responsive out of band,
// without opening a streaming subscription. The health loop uses it to let
// endpoints that decayed below the viability floor earn their way back once
// the node recovers; it also backs the one-off probe command.
type EndpointProber interface {
	// Probe performs a cheap liveness request against the endpoint. A nil
	// return means the node answered.
	Probe(ctx context.Context, endpoint string) error
}
