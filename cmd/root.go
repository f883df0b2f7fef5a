package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lanshare/config"
	"lanshare/identity"
	"lanshare/logging"
	"lanshare/storage"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          `lanshare`,
	Short:        "share text and files on the local network",
	Long:         `lanshare connects devices on one local network through a shared relay so they can exchange text messages and files`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides LANSHARE_LOG_LEVEL")

	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return cfg, logging.New(level), nil
}

// openStore opens the SQLite store under the data directory.
func openStore(cfg config.Config) (*storage.Store, string, error) {
	if err := config.EnsureDataDirectories(cfg.DataDir); err != nil {
		return nil, "", err
	}
	return storage.Open(cfg.DataDir)
}

// loadIdentity resolves the persisted identity. Without a store the identity is ephemeral.
func loadIdentity(store *storage.Store, log *logrus.Logger) *identity.Store {
	if store == nil {
		return identity.NewStore(identity.NewMemoryStore(), identity.Options{Logger: log})
	}
	return identity.NewStore(store, identity.Options{Logger: log})
}
