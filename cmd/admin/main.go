// Package main provides the advisor admin CLI: it turns freezone price
// lists (PDF or Excel) into reviewed text for the recommendation catalog.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/freezone-advisor/internal/docextract"
	"github.com/ashureev/freezone-advisor/internal/llm"
)

var rootCmd = &cobra.Command{
	Use:   "advisor-admin",
	Short: "Freezone Advisor admin tools",
	Long: `Admin tools for the Freezone Advisor. Extracts the text of freezone package
documents and organises it into packages, pricing, features, add-ons and
conditions with an LLM.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return configureLogger(viper.GetString("log-level"))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
	}

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug|info|warn|error)")
	flags.String("provider", "", "LLM provider (openai|anthropic) [env LLM_PROVIDER]")
	flags.String("model", "", "LLM model [env LLM_MODEL]")
	flags.String("base-url", "", "LLM API base URL [env LLM_BASE_URL]")

	for _, name := range []string{"log-level", "provider", "model", "base-url"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", name, err)
			os.Exit(1)
		}
	}
	bindEnv("log-level", "ADMIN_LOG_LEVEL")
	bindEnv("provider", "LLM_PROVIDER")
	bindEnv("model", "LLM_MODEL")
	bindEnv("base-url", "LLM_BASE_URL")
	bindEnv("openai-api-key", "OPENAI_API_KEY")
	bindEnv("anthropic-api-key", "ANTHROPIC_API_KEY")

	rootCmd.AddCommand(newExtractCmd(), newWatchCmd())
}

func bindEnv(key, env string) {
	if err := viper.BindEnv(key, env); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding %s: %v\n", env, err)
		os.Exit(1)
	}
}

// configureLogger installs a charmbracelet logger as the slog default so the
// library packages log through it.
func configureLogger(level string) error {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "admin",
	})
	slog.SetDefault(slog.New(logger))
	return nil
}

// newStructurer returns nil when no provider key is configured; callers then
// publish raw document text.
func newStructurer() (*docextract.Structurer, error) {
	provider := strings.ToLower(viper.GetString("provider"))
	openaiKey := viper.GetString("openai-api-key")
	anthropicKey := viper.GetString("anthropic-api-key")
	if provider == "" {
		switch {
		case openaiKey != "":
			provider = llm.ProviderOpenAI
		case anthropicKey != "":
			provider = llm.ProviderAnthropic
		default:
			return nil, nil
		}
	}

	key := openaiKey
	if provider == llm.ProviderAnthropic {
		key = anthropicKey
	}
	client, err := llm.New(llm.Config{
		Provider:   provider,
		Model:      viper.GetString("model"),
		APIKey:     key,
		BaseURL:    viper.GetString("base-url"),
		MaxRetries: -1,
		Logger:     slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	return docextract.NewStructurer(client), nil
}
