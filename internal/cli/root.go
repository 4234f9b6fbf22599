// Package cli implements the chatgate command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/chatgate/internal/config"
	"github.com/ppiankov/chatgate/internal/fingerprint"
	"github.com/ppiankov/chatgate/internal/gate"
	"github.com/ppiankov/chatgate/internal/recordstore"
)

var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ~/.chatgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

var rootCmd = &cobra.Command{
	Use:           "chatgate",
	Short:         "Admission gate for a public chat endpoint",
	Long:          "Sits in front of a chat backend and decides, per request, whether a client is admitted,\nthrottled, or permanently banned. Bans are keyed by an irreversible fingerprint of the client address.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies flag overrides and selects the
// fingerprint hash implementation.
func loadConfig() (*config.Config, string, error) {
	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return nil, "", err
	}
	if logLevel != "" {
		if _, err := config.ParseLevel(logLevel); err != nil {
			return nil, "", err
		}
		cfg.Log.Level = logLevel
	}
	fingerprint.UseSIMD(cfg.SIMDHash)
	return cfg, hash, nil
}

// resolvedConfigPath returns the file serve watches for reloads.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// openEngine opens the configured store and builds an engine over it.
// The caller closes the returned backend.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gate.Engine, recordstore.Backend, error) {
	backend, err := recordstore.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return gate.New(backend, gate.WithLogger(logger)), backend, nil
}
