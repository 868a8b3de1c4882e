// Package cli provides the ragpipe command line interface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

// version is set by Execute; "dev" for local builds.
var version = "dev"

// Services configured by SetServices or the bootstrap hook.
var (
	ingestService     driving.IngestService
	retriever         driving.Retriever
	collectionService driving.CollectionService
	settingsService   driving.SettingsService
	metricsGatherer   prometheus.Gatherer
	defaultCollection string
	defaultTopK       int
	closeServices     func() error
)

// Global flags.
var (
	verbose   bool
	configDir string
)

// Command annotations read by prepare.
const (
	// skipBootstrap marks commands that run without services.
	skipBootstrap = "skip-bootstrap"

	// settingsOnly marks commands that need only the settings service, so
	// they keep working while the store or providers are misconfigured.
	settingsOnly = "settings-only"
)

// Services bundles the driving ports the commands use.
type Services struct {
	Ingest      driving.IngestService
	Retriever   driving.Retriever
	Collections driving.CollectionService
	Settings    driving.SettingsService

	// Gatherer exposes pipeline metrics on the HTTP API. Optional.
	Gatherer prometheus.Gatherer

	// Collection is the default collection for commands without --collection.
	Collection string

	// TopK is the default number of query matches.
	TopK int

	// Close releases stores and provider clients. Optional.
	Close func() error
}

// BootstrapOptions are the global flag values passed to the bootstrap hook.
type BootstrapOptions struct {
	ConfigDir string
	Verbose   bool

	// SettingsOnly asks for the settings service alone.
	SettingsOnly bool
}

// Bootstrap builds services once global flags are parsed.
type Bootstrap func(ctx context.Context, opts BootstrapOptions) (*Services, error)

var bootstrap Bootstrap

var rootCmd = &cobra.Command{
	Use:   "ragpipe",
	Short: "Ingest documents and query them by meaning",
	Long: `ragpipe fetches web pages, sitemaps, text files, PDFs and local
directories, splits them into chunks, embeds the chunks and stores them
in named collections. Queries return the most similar chunks with their
source, ready to paste into an LLM prompt.`,
	SilenceUsage:      true,
	PersistentPreRunE: prepare,
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if closeServices == nil {
			return nil
		}
		err := closeServices()
		closeServices = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print diagnostic output to stderr")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "configuration directory (default ~/.ragpipe)")
}

// SetServices installs the services used by every command.
func SetServices(s *Services) {
	if s == nil {
		s = &Services{}
	}
	ingestService = s.Ingest
	retriever = s.Retriever
	collectionService = s.Collections
	settingsService = s.Settings
	metricsGatherer = s.Gatherer
	defaultCollection = s.Collection
	defaultTopK = s.TopK
	closeServices = s.Close
}

// SetBootstrap registers the hook that builds services after flag parsing.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// Execute runs the root command.
func Execute(ctx context.Context, v string) error {
	if v != "" {
		version = v
	}
	return rootCmd.ExecuteContext(ctx)
}

func prepare(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	if bootstrap == nil || inherits(cmd, skipBootstrap) || builtin(cmd) {
		return nil
	}
	services, err := bootstrap(cmd.Context(), BootstrapOptions{
		ConfigDir:    configDir,
		Verbose:      verbose,
		SettingsOnly: inherits(cmd, settingsOnly),
	})
	if err != nil {
		return err
	}
	SetServices(services)
	return nil
}

// inherits reports whether cmd or one of its parents carries annotation.
func inherits(cmd *cobra.Command, annotation string) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[annotation] == "true" {
			return true
		}
	}
	return false
}

// builtin reports whether cmd is one cobra adds itself.
func builtin(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return true
		}
	}
	return false
}

// collectionOrDefault returns name, the configured collection or "docs".
func collectionOrDefault(name string) string {
	switch {
	case name != "":
		return name
	case defaultCollection != "":
		return defaultCollection
	default:
		return domain.DefaultCollection
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var errNotConfigured = errors.New("not configured")

func notConfigured(what string) error {
	return fmt.Errorf("%s %w", what, errNotConfigured)
}
