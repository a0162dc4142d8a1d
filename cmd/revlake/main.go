package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/revlake/revlake/pkg/config"
	"github.com/revlake/revlake/pkg/logger"
	"github.com/revlake/revlake/pkg/orchestrator"
	"github.com/revlake/revlake/pkg/status"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "revlake",
		Short: "Revlake - GTM data pipeline orchestrator",
		Long: `Revlake orchestrates go-to-market data pipelines: it connects the
staging store, cache, warehouse, and ingestion engines, provisions the
destination schemas, and configures one ingestion flow per source system.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Revlake v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "List supported source systems and destinations",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Source systems:")
			for _, src := range config.AllSources() {
				fmt.Printf("  - %s\n", src)
			}
			fmt.Println("\nDestinations:")
			for _, dest := range []string{
				status.DestinationRelational,
				status.DestinationCache,
				status.DestinationWarehouse,
				status.DestinationVector,
			} {
				fmt.Printf("  - %s\n", dest)
			}
		},
	})

	var configFile, policy, logLevel string
	var timeout time.Duration

	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Run one pipeline setup session",
		Long: `Run one pipeline setup session: acquire every external connection,
select an ingestion engine per the configured policy, provision the
destination schemas, and configure and start one flow per source.

The session summary is printed as JSON. Partial failures (an unreachable
cache, a source whose flow could not be created) are reported in the
summary without failing the session; only an unusable engine policy or an
unreachable staging store exits non-zero.

Example:
  revlake setup --config pipeline.yaml --policy HYBRID`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(configFile, policy, logLevel, timeout)
		},
	}

	setupCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to pipeline configuration YAML file (environment used when omitted)")
	setupCmd.Flags().StringVar(&policy, "policy", "", "Engine policy override (PRIMARY, FALLBACK, HYBRID)")
	setupCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	setupCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Session timeout")
	root.AddCommand(setupCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the pipeline configuration from the given YAML file,
// or from REVLAKE_* environment variables when no file is given.
func loadConfig(configFile, policy string) (*config.PipelineConfig, error) {
	var cfg *config.PipelineConfig
	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if policy != "" {
		cfg.Policy = config.EnginePolicy(policy)
	}
	return cfg, nil
}

// runSetup runs one orchestrator session and prints its summary as JSON.
func runSetup(configFile, policy, logLevel string, timeout time.Duration) error {
	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(configFile, policy)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(cfg, logger.Get())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summary, err := orch.Setup(ctx)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
