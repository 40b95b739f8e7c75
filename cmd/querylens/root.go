package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spboyer/querylens/internal/apiclient"
	"github.com/spboyer/querylens/internal/projectconfig"
	"github.com/spf13/cobra"
)

var version = "dev"

// DefaultBaseURL is used when neither the config file, the environment nor
// --api-url names a backend.
const DefaultBaseURL = "http://localhost:8000"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	apiURL     string
	apiTimeout time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "querylens",
		Short: "QueryLens - ask questions of your database and see how well they were answered",
		Long: `QueryLens sends natural-language questions to a text-to-SQL backend.

It shows the generated SQL and result rows as soon as they arrive, then
follows the backend's asynchronous quality evaluation until the
faithfulness, answer relevance and context precision scores are ready.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "Backend base URL (overrides config and "+projectconfig.EnvAPIURL+")")
	cmd.PersistentFlags().DurationVar(&opts.apiTimeout, "api-timeout", 0, "Submission request timeout (overrides config)")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	// Add subcommands
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	cmd.AddCommand(newHealthCommand(opts))
	cmd.AddCommand(newMockBackendCommand())
	cmd.AddCommand(newSessionCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}

// loadConfig reads .querylens.yaml from the working directory upwards and
// applies the persistent flag overrides.
func (o *globalOptions) loadConfig() (*projectconfig.ProjectConfig, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	cfg, err := projectconfig.Load(wd)
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		slog.Debug("loaded project config", "path", cfg.Path)
	}

	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.apiTimeout > 0 {
		cfg.API.TimeoutMs = int(o.apiTimeout / time.Millisecond)
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	return cfg, cfg.Validate()
}

func newClient(cfg *projectconfig.ProjectConfig) *apiclient.Client {
	return apiclient.New(apiclient.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.APITimeout(),
		Logger:  slog.Default(),
	})
}
