// Package cmd provides the CLI commands of fireedge-server.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fireedge.io/gateway/internal/config"
	"fireedge.io/gateway/internal/logging"
)

var (
	// Version information (set at build time via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	listenAddr string
	dbPath     string
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fireedge-server",
	Short: "FireEdge - console API gateway",
	Long: `FireEdge serves the cloud console API.

It forwards console requests to the orchestration engine (XML-RPC),
the service orchestration API, the support ticketing portal and the
provisioning CLI, behind one authenticated REST interface.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	flags.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides server.listen)")
	flags.StringVar(&dbPath, "db", "", "Path to SQLite database (overrides database.path)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "", "Log format: json, console")
}

// loadConfig reads the configuration and applies command-line overrides,
// which take precedence over the file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Server.Listen = listenAddr
	}
	if flags.Changed("db") {
		cfg.Database.Path = dbPath
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}

	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = logging.Format(cfg.Logging.Format)

	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// versionString returns formatted version information
func versionString() string {
	return fmt.Sprintf("FireEdge %s (commit: %s, built: %s)",
		Version, Commit, BuildDate)
}
