package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"sessionlink/internal/config"
	"sessionlink/internal/logging"
)

var (
	// Global flags
	configPath  string
	sessionCode string
	endpointURL string
	pageURL     string
	debug       bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sessionlink",
	Short: "Resilient client link to a live classroom session",
	Long: `sessionlink holds one session channel open against a classroom server.

It queues outbound messages while disconnected, answers heartbeats, detects
stalled connections and reconnects with capped exponential backoff.

Configuration layers: --config file > SESSIONLINK_* environment > defaults.
Flags override all three.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded

		logger, err = logging.New(cfg.Logging)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVarP(&sessionCode, "session", "s", "", "session code")
	rootCmd.PersistentFlags().StringVar(&endpointURL, "url", "", "explicit channel URL")
	rootCmd.PersistentFlags().StringVar(&pageURL, "page-url", "", "page URL the channel is derived from")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug logging and frame tracing")

	rootCmd.AddCommand(connectCmd, eventsCmd)
}

// loadConfig layers changed flags over the resolved configuration
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loaded, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("session") {
		loaded.Endpoint.SessionCode = sessionCode
	}
	if flags.Changed("url") {
		loaded.Endpoint.URL = endpointURL
	}
	if flags.Changed("page-url") {
		loaded.Endpoint.PageURL = pageURL
	}
	if debug {
		loaded.Logging.Debug = true
		loaded.Connection.Debug = true
	}
	if flags.Lookup("journal") != nil && flags.Changed("journal") {
		loaded.Journal.Path, _ = flags.GetString("journal")
		// events reads an existing journal; only connect starts writing one
		loaded.Journal.Enabled = cmd.Name() == "connect"
	}
	if flags.Lookup("debug-port") != nil && flags.Changed("debug-port") {
		loaded.DebugServer.Enabled = true
		loaded.DebugServer.Port, _ = flags.GetInt("debug-port")
	}

	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return loaded, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
