package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lanshare/config"
	"lanshare/discovery"
	"lanshare/session"
	"lanshare/transfer"
)

var connectRelay string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "join the relay and exchange messages and files",
	Long: `connect to the configured relay, or the first relay found over mDNS, and read commands from stdin.
type help once connected for the list of commands`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		store, dbPath, err := openStore(cfg)
		if err != nil {
			log.WithError(err).Warn("storage unavailable, running with an ephemeral identity and no history")
		} else {
			defer func() {
				if err := store.Close(); err != nil {
					log.WithError(err).Warn("database close error")
				}
			}()
		}

		self := loadIdentity(store, log).Load()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		relayURL, err := resolveRelayURL(ctx, cfg, log)
		if err != nil {
			return err
		}

		options := transfer.BlobStoreOptions{Dir: cfg.BlobsDir(), Logger: log}
		if store != nil {
			options.Ledger = store
		}
		blobs, err := transfer.NewBlobStore(options)
		if err != nil {
			return err
		}

		sessionOptions := session.Options{
			Identity:       self,
			RelayURL:       relayURL,
			RetryInterval:  cfg.ReconnectInterval,
			LoadingTimeout: cfg.LoadingTimeout,
			Blobs:          blobs,
			Header:         http.Header{"User-Agent": []string{userAgent()}},
			Logger:         log,
		}
		var history historyReader
		if store != nil {
			sessionOptions.History = store
			history = store
		}
		sess, err := session.New(sessionOptions)
		if err != nil {
			return err
		}
		defer func() {
			if err := sess.Close(); err != nil {
				log.WithError(err).Warn("session close error")
			}
		}()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Client ID:       %s\n", self.ID)
		fmt.Fprintf(out, "Display Name:    %s\n", self.DisplayName)
		fmt.Fprintf(out, "Relay:           %s\n", relayURL)
		if dbPath != "" {
			fmt.Fprintf(out, "Database File:   %s\n", dbPath)
		}
		fmt.Fprintln(out, "Status:          connecting (type help for commands, quit to exit)")

		if err := sess.Start(); err != nil {
			return err
		}
		return newConsole(sess, history, blobs, out).run(ctx, os.Stdin)
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectRelay, "relay", "", "relay websocket URL, overrides configuration and discovery")
}

// resolveRelayURL prefers the --relay flag, then the configured host, then mDNS.
func resolveRelayURL(ctx context.Context, cfg config.Config, log *logrus.Logger) (string, error) {
	if connectRelay != "" {
		return connectRelay, nil
	}
	if cfg.HasRelayEndpoint() {
		return cfg.RelayURL(), nil
	}
	if !cfg.Discovery {
		return "", errors.New("no relay configured: set LANSHARE_RELAY_HOST or enable LANSHARE_DISCOVERY")
	}

	log.WithField("timeout", cfg.DiscoveryTimeout).Info("looking for a relay over mDNS")
	found, err := discovery.FirstRelay(ctx, discovery.Config{ScanTimeout: cfg.DiscoveryTimeout})
	if err != nil {
		return "", fmt.Errorf("discover relay: %w", err)
	}
	log.WithFields(logrus.Fields{"instance": found.Instance, "url": found.URL()}).Info("relay found")
	return found.URL(), nil
}

func userAgent() string {
	return fmt.Sprintf("lanshare/%d (%s; %s)", discovery.DefaultVersion, runtime.GOOS, runtime.GOARCH)
}
