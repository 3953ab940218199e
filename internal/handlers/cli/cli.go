package cli

import (
	"context"
	"net/http"
	"os"

	"github.com/gabapcia/mempoolwatch/internal/txingest"

	"github.com/urfave/cli/v3"
)

// Run initializes and executes the mempoolwatch CLI application.
//
// It registers all available commands, including:
//
//   - `start`: Starts the ingestion service for every configured chain.
//   - `probe`: Probes the configured endpoints of a single chain.
//   - `lookup`: Fetches a recently ingested transaction from the cache.
//   - `chains`: Lists every supported chain name and identifier.
//
// Parameters:
//   - ctx: Context used to control the lifecycle of the CLI application.
//   - svc: The ingestion service implementation used by the start command.
//   - prober: The endpoint prober used by the probe command.
//   - store: The cache reader used by the lookup command.
//   - chains: Configured chain name -> endpoint URLs, used by the probe command.
//   - metricsHandler: HTTP handler exposing the metrics endpoint.
//   - metricsAddr: Listen address for the metrics HTTP server.
//
// This function sets up shell completion and invokes the CLI framework to parse and run commands.
func Run(ctx context.Context, svc txingest.Service, prober txingest.EndpointProber, store TransactionStore, chains map[string][]string, metricsHandler http.Handler, metricsAddr string) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "mempoolwatch",
		Description:           "Command-line interface for running and inspecting the Mempoolwatch ingestion service.",
		Usage:                 "mempoolwatch [command] [flags]",
		Commands: []*cli.Command{
			startServiceCommand(svc, metricsHandler, metricsAddr),
			probeEndpointsCommand(prober, chains),
			lookupTransactionCommand(store),
			listChainsCommand(),
		},
	}

	return app.Run(ctx, os.Args)
}
