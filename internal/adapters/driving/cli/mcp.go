package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ragpipe/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so AI assistants can ingest
sources and query collections.

By default, the server communicates over stdio using JSON-RPC.
Use --port to serve streamable HTTP instead, e.g. for MCP Inspector.

Tools: ingest_source, query, answer, list_sources, delete_source
Resources: ragpipe://collections, ragpipe://collections/{name}/sources

Examples:
  # Stdio mode (default, for desktop assistants)
  ragpipe mcp serve

  # HTTP mode on 127.0.0.1, web sources only
  ragpipe mcp serve --port 8080

  # HTTP mode that may also ingest local files
  ragpipe mcp serve --port 8080 --allow-local

Assistant configuration:
  {
    "mcpServers": {
      "ragpipe": {
        "command": "/path/to/ragpipe",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port on 127.0.0.1 (0 = use stdio)")
	mcpServeCmd.Flags().Bool("allow-local", false, "let HTTP clients ingest local files and directories")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}
	allowLocal, err := cmd.Flags().GetBool("allow-local")
	if err != nil {
		return fmt.Errorf("getting allow-local flag: %w", err)
	}

	server, err := mcp.NewServer(&mcp.Ports{
		Retriever:         retriever,
		Ingest:            ingestService,
		Collections:       collectionService,
		DefaultCollection: collectionOrDefault(""),
		DefaultTopK:       defaultTopK,
		RemoteOnly:        port > 0 && !allowLocal,
	})
	if err != nil {
		return err
	}

	if port > 0 {
		addr := mcpListenAddr(port)
		cmd.PrintErrf("MCP server listening on http://%s\n", addr)
		return server.RunHTTP(cmd.Context(), addr)
	}

	return server.Run(cmd.Context())
}

// mcpListenAddr keeps the HTTP transport on the loopback interface.
func mcpListenAddr(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}
