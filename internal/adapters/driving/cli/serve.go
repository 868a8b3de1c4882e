package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/ragpipe/internal/adapters/driving/httpapi"
)

var (
	serveAddr    string
	serveMetrics bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve ingestion, query and collection management over HTTP.

Routes:
  GET    /health
  GET    /metrics                               (Prometheus)
  GET    /v1/collections
  GET    /v1/collections/:collection
  GET    /v1/collections/:collection/sources
  DELETE /v1/collections/:collection/sources?source=...
  POST   /v1/collections/:collection/ingest
  POST   /v1/collections/:collection/query
  POST   /v1/collections/:collection/context
  POST   /v1/collections/:collection/answer`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "127.0.0.1:8420", "listen address")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "expose /metrics")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ports := &httpapi.Ports{
		Retriever:   retriever,
		Ingest:      ingestService,
		Collections: collectionService,
		DefaultTopK: defaultTopK,
	}
	if serveMetrics {
		ports.Gatherer = metricsGatherer
	}

	server, err := httpapi.NewServer(ports)
	if err != nil {
		return err
	}
	return server.Run(cmd.Context(), serveAddr)
}
