package txingest

// Ingestion outcomes reported through Metrics.TransactionIngested.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Metrics receives the counters and gauges produced by the ingestion
// pipeline. It is injected into the service instead of registered globally,
// which keeps domain code free of exposition concerns and lets tests plug in
// a recording sink.
type Metrics interface {
	// TransactionIngested counts one processed feed record per chain, with
	// outcome "success" or "failed".
	TransactionIngested(chain, outcome string)

	// EndpointHealth reports the current health score of an endpoint.
	EndpointHealth(chain, endpoint string, score float64)

	// ConnectionLatency reports how long a connect-and-subscribe attempt
	// took, in seconds, whether it succeeded or not.
	ConnectionLatency(chain, endpoint string, seconds float64)
}

// NopMetrics discards every measurement. It is the default sink when none is
// injected.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) TransactionIngested(chain, outcome string)                 {}
func (NopMetrics) EndpointHealth(chain, endpoint string, score float64)      {}
func (NopMetrics) ConnectionLatency(chain, endpoint string, seconds float64) {}
