package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/pkg/logger"
	"github.com/gabapcia/mempoolwatch/internal/txingest"

	"github.com/urfave/cli/v3"
)

// metricsServerShutdownTimeout bounds how long the metrics HTTP server may
// take to drain in-flight scrapes during shutdown.
const metricsServerShutdownTimeout = 5 * time.Second

// newMetricsServer builds the HTTP server that exposes the metrics endpoint
// and a liveness probe.
func newMetricsServer(addr string, metricsHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{Addr: addr, Handler: mux}
}

// startServiceCommand returns a CLI command that starts the full ingestion
// service, including one streaming monitor per configured chain and the
// metrics HTTP server.
//
// Usage example:
//
//	mempoolwatch start
//
// The process runs indefinitely until it receives an interrupt (SIGINT or SIGTERM).
func startServiceCommand(svc txingest.Service, metricsHandler http.Handler, metricsAddr string) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Starts the pending-transaction ingestion service for every configured chain.",
		Usage:       "Initializes and runs the full service. Terminates gracefully on Ctrl+C or termination signals.",
		Action: func(ctx context.Context, c *cli.Command) error {
			quit := make(chan os.Signal, 1)
			defer close(quit)

			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer svc.Close()

			metricsServer := newMetricsServer(metricsAddr, metricsHandler)
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error(ctx, "metrics server stopped", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsServerShutdownTimeout)
				defer cancel()

				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					logger.Error(ctx, "metrics server shutdown failed", "error", err)
				}
			}()

			<-quit
			return nil
		},
	}
}
