package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

var (
	sourcesCollection string
	sourcesJSON       bool
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage stored sources",
	Long:  `List the sources stored in a collection or remove one of them.`,
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources in a collection",
	Args:  cobra.NoArgs,
	RunE:  runSourcesList,
}

var sourcesDeleteCmd = &cobra.Command{
	Use:     "delete <source>",
	Aliases: []string{"rm", "remove"},
	Short:   "Remove every stored chunk of a source",
	Args:    cobra.ExactArgs(1),
	RunE:    runSourcesDelete,
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List collections",
	Args:  cobra.NoArgs,
	RunE:  runCollections,
}

func init() {
	sourcesCmd.PersistentFlags().StringVarP(&sourcesCollection, "collection", "c", "", "collection to use")
	sourcesListCmd.Flags().BoolVar(&sourcesJSON, "json", false, "output as JSON")
	collectionsCmd.Flags().BoolVar(&sourcesJSON, "json", false, "output as JSON")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesDeleteCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(collectionsCmd)
}

func runSourcesList(cmd *cobra.Command, _ []string) error {
	if collectionService == nil {
		return notConfigured("collection service")
	}

	collection := collectionOrDefault(sourcesCollection)
	sources, err := collectionService.ListSources(cmd.Context(), collection)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	if sourcesJSON {
		return printJSON(cmd, sources)
	}

	if len(sources) == 0 {
		cmd.Printf("No sources in %s.\n", collection)
		return nil
	}

	cmd.Printf("Sources in %s (%d):\n", collection, len(sources))
	cmd.Println()
	for _, s := range sources {
		cmd.Printf("  %s\n", s.Source)
		cmd.Printf("      Chunks: %d  Updated: %s\n", s.Records, s.UpdatedAt)
		if s.Origin != "" && s.Origin != s.Source {
			cmd.Printf("      Origin: %s\n", s.Origin)
		}
	}
	return nil
}

func runSourcesDelete(cmd *cobra.Command, args []string) error {
	if collectionService == nil {
		return notConfigured("collection service")
	}

	collection := collectionOrDefault(sourcesCollection)
	n, err := collectionService.DeleteSource(cmd.Context(), collection, args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("source %s is not stored in %s", args[0], collection)
	}
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}

	cmd.Printf("Deleted %d chunk(s) of %s from %s\n", n, args[0], collection)
	return nil
}

func runCollections(cmd *cobra.Command, _ []string) error {
	if collectionService == nil {
		return notConfigured("collection service")
	}

	collections, err := collectionService.ListCollections(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	if sourcesJSON {
		return printJSON(cmd, collections)
	}

	if len(collections) == 0 {
		cmd.Println("No collections yet. Run 'ragpipe ingest <source>' to create one.")
		return nil
	}

	cmd.Printf("  %-24s %8s %8s %6s\n", "NAME", "SOURCES", "CHUNKS", "DIMS")
	for _, c := range collections {
		cmd.Printf("  %-24s %8d %8d %6d\n", c.Name, c.Sources, c.Records, c.Dimensions)
	}
	return nil
}
