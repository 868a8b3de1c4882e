package cli

import (
	"bufio"
	"cmp"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/services"
)

var configJSON bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and change settings",
	Long: `View and change ragpipe settings.

Settings live in config.toml under the configuration directory and can be
overridden per process with RAGPIPE_* environment variables or a .env file.`,
	Annotations: map[string]string{settingsOnly: "true"},
	RunE:        runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Change one setting by its dotted key.

Run 'ragpipe config keys' to list the keys.

Examples:
  ragpipe config set query.top_k 8
  ragpipe config set store.backend chromem
  ragpipe config set fetch.timeout 45s`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List setting keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, key := range services.SettingKeys() {
			cmd.Println(key)
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if settingsService == nil {
			return notConfigured("settings service")
		}
		cmd.Println(settingsService.Path())
		return nil
	},
}

var configEmbeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Configure the embedding provider",
	Long: `Choose the embedding provider and model interactively.

The provider is contacted once to check the configuration.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if settingsService == nil {
			return notConfigured("settings service")
		}
		return configureEmbeddingProvider(cmd, bufio.NewReader(cmd.InOrStdin()))
	},
}

var configLLMCmd = &cobra.Command{
	Use:   "llm",
	Short: "Configure the LLM provider used by ask",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if settingsService == nil {
			return notConfigured("settings service")
		}
		return configureLLMProvider(cmd, bufio.NewReader(cmd.InOrStdin()))
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configJSON, "json", false, "output as JSON")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEmbeddingCmd)
	configCmd.AddCommand(configLLMCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return notConfigured("settings service")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	values := displayValues(settings)

	if configJSON {
		return printJSON(cmd, values)
	}

	cmd.Printf("Settings (%s)\n", settingsService.Path())
	cmd.Println()
	section := ""
	for _, key := range services.SettingKeys() {
		if s, _, ok := strings.Cut(key, "."); ok && s != section {
			section = s
			cmd.Printf("[%s]\n", section)
		}
		cmd.Printf("  %-28s %s\n", key, values[key])
	}
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'ragpipe config embedding' to fix provider settings.")
	} else {
		cmd.Println("Configuration is valid.")
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return notConfigured("settings service")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	key := strings.ToLower(strings.TrimSpace(args[0]))
	val, ok := displayValues(settings)[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	cmd.Println(val)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return notConfigured("settings service")
	}
	if err := settingsService.Set(args[0], args[1]); err != nil {
		return err
	}
	val := args[1]
	if services.IsSecretKey(args[0]) {
		val = maskAPIKey(val)
	}
	cmd.Printf("Set %s = %s\n", args[0], val)
	return nil
}

// displayValues formats every setting for display with secrets masked.
func displayValues(settings *domain.Settings) map[string]string {
	out := make(map[string]string)
	for key, val := range services.SettingValues(settings) {
		s := fmt.Sprint(val)
		switch {
		case services.IsSecretKey(key) && s == "":
			s = "(not set)"
		case services.IsSecretKey(key):
			s = maskAPIKey(s)
		}
		out[key] = s
	}
	return out
}

// providerSetup describes one interactive provider wizard.
type providerSetup struct {
	role      string
	providers []domain.AIProvider
	models    map[domain.AIProvider]string
	apply     func(p domain.AIProvider, model, apiKey string) error
	check     func() error
	epilogue  string
}

func configureEmbeddingProvider(cmd *cobra.Command, reader *bufio.Reader) error {
	return runProviderSetup(cmd, reader, providerSetup{
		role:      "Embedding",
		providers: domain.AllEmbeddingProviders(),
		models:    domain.DefaultEmbeddingModels(),
		apply:     settingsService.SetEmbeddingProvider,
		check:     settingsService.ValidateEmbeddingConfig,
		epilogue:  "Re-ingest existing collections if the model changed; vectors from different models do not compare.",
	})
}

func configureLLMProvider(cmd *cobra.Command, reader *bufio.Reader) error {
	return runProviderSetup(cmd, reader, providerSetup{
		role:      "LLM",
		providers: domain.AllLLMProviders(),
		models:    domain.DefaultLLMModels(),
		apply:     settingsService.SetLLMProvider,
		check:     settingsService.ValidateLLMConfig,
	})
}

// runProviderSetup asks for provider, model and key, stores them and then
// contacts the provider once.
func runProviderSetup(cmd *cobra.Command, reader *bufio.Reader, setup providerSetup) error {
	cmd.Printf("%s provider:\n", setup.role)
	for i, p := range setup.providers {
		cmd.Printf("  [%d] %s\n", i+1, p.Description())
	}
	cmd.Print("\nChoice [1]: ")
	provider := setup.providers[parseChoice(readLine(reader), len(setup.providers), 1)-1]

	fallback := setup.models[provider]
	cmd.Printf("Model [%s]: ", fallback)
	model := cmp.Or(readLine(reader), fallback)

	var apiKey string
	if provider.RequiresAPIKey() {
		cmd.Printf("%s API key: ", provider)
		apiKey = readPassword(reader)
		cmd.Println()
		if apiKey == "" {
			return fmt.Errorf("%w: API key is required for %s", domain.ErrInvalidInput, provider)
		}
	}

	if err := setup.apply(provider, model, apiKey); err != nil {
		return fmt.Errorf("save %s provider: %w", strings.ToLower(setup.role), err)
	}

	cmd.Print("Validating configuration... ")
	if err := setup.check(); err != nil {
		cmd.Printf("FAILED: %v\n", err)
		return fmt.Errorf("%s provider unreachable: %w", strings.ToLower(setup.role), err)
	}
	cmd.Println("OK")

	cmd.Printf("%s provider set to %s (%s)\n", setup.role, provider.Description(), model)
	if setup.epilogue != "" {
		cmd.Println(setup.epilogue)
	}
	return nil
}

// readLine returns the next trimmed line. EOF reads as an empty answer.
func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// parseChoice reads a 1-based menu choice, falling back to def for
// anything outside 1..n.
func parseChoice(input string, n, def int) int {
	if v, err := strconv.Atoi(input); err == nil && v >= 1 && v <= n {
		return v
	}
	return def
}

// readPassword reads without echo from a terminal, otherwise a plain line.
func readPassword(reader *bufio.Reader) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(reader)
	}
	secret, err := term.ReadPassword(fd)
	if err != nil {
		return readLine(reader)
	}
	return strings.TrimSpace(string(secret))
}

// maskAPIKey keeps the first and last four characters of keys long
// enough to hide anything in between.
func maskAPIKey(key string) string {
	const keep = 4
	if len(key) <= 2*keep {
		return "****"
	}
	return key[:keep] + "..." + key[len(key)-keep:]
}
