package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

var (
	queryCollection string
	queryK          int
	querySource     string
	queryJSON       bool
	queryContext    bool
	queryFull       bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Find the stored chunks most similar to a query",
	Long: `Embeds the query and returns the k most similar chunks of a collection,
best first, with their source and section.

Use --context to print one prompt-ready block instead of a ranked list.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from stored content",
	Long: `Retrieves the chunks most similar to the question and asks the
configured LLM to answer from them. Configure the LLM with
'ragpipe config llm'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, askCmd} {
		c.Flags().StringVarP(&queryCollection, "collection", "c", "", "collection to search")
		c.Flags().IntVarP(&queryK, "k", "k", 0, fmt.Sprintf("maximum number of matches (default %d, max %d)", domain.DefaultTopK, domain.MaxTopK))
		c.Flags().StringVarP(&querySource, "source", "s", "", "restrict matches to one source URL or path")
		c.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	}
	queryCmd.Flags().BoolVar(&queryContext, "context", false, "print the matches as one prompt-ready block")
	queryCmd.Flags().BoolVar(&queryFull, "full", false, "print whole chunks instead of previews")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(askCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if retriever == nil {
		return notConfigured("retriever")
	}

	text := strings.Join(args, " ")
	collection := collectionOrDefault(queryCollection)
	k := domain.ClampK(queryK, defaultTopK)
	filter := domain.Filter{Source: querySource}

	if queryContext {
		block, err := retriever.Context(cmd.Context(), collection, text, k, filter)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		if queryJSON {
			return printJSON(cmd, block)
		}
		cmd.Println(block.Text)
		return nil
	}

	result, err := retriever.Query(cmd.Context(), collection, text, k, filter)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if queryJSON {
		return printJSON(cmd, result)
	}
	printMatches(cmd, result.Matches, queryFull)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	if retriever == nil {
		return notConfigured("retriever")
	}

	question := strings.Join(args, " ")
	collection := collectionOrDefault(queryCollection)
	k := domain.ClampK(queryK, defaultTopK)

	answer, err := retriever.Answer(cmd.Context(), collection, question, k, domain.Filter{Source: querySource})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	if queryJSON {
		return printJSON(cmd, answer)
	}

	cmd.Println(answer.Text)
	if answer.Context == nil || len(answer.Context.Matches) == 0 {
		return nil
	}
	cmd.Println()
	cmd.Printf("Sources (%s):\n", answer.Model)
	for i := range answer.Context.Matches {
		m := &answer.Context.Matches[i]
		cmd.Printf("  [%d] %s\n", m.Rank, m.ID())
	}
	return nil
}

func printMatches(cmd *cobra.Command, matches []domain.ScoredRecord, full bool) {
	if len(matches) == 0 {
		cmd.Println("No matches found.")
		return
	}

	cmd.Println("Matches:")
	cmd.Println()
	for i := range matches {
		m := &matches[i]
		cmd.Printf("  [%d] %s (%.3f)\n", m.Rank, m.Source, m.Score)
		if path := m.HeaderPathString(); path != "" {
			cmd.Printf("      Section: %s\n", path)
		}
		content := strings.Join(strings.Fields(m.Content), " ")
		if !full {
			content = preview(content, 200)
		}
		cmd.Printf("      %s\n", content)
		cmd.Println()
	}
}

// preview cuts s to at most n runes.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
