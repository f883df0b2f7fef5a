package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lanshare/discovery"
	"lanshare/relay"
)

var (
	relayListen    string
	relayAdvertise bool
	relayInstance  string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "run the reference relay",
	Long:  `run a relay that forwards messages between every connected client, optionally advertising itself over mDNS`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		addr := cfg.RelayListen
		if cmd.Flags().Changed("listen") {
			addr = relayListen
		}
		advertise := cfg.Discovery
		if cmd.Flags().Changed("discovery") {
			advertise = relayAdvertise
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if advertise {
			instance := relayInstance
			if instance == "" {
				if host, err := os.Hostname(); err == nil {
					instance = "lanshare relay on " + host
				}
			}
			broadcaster, err := discovery.Advertise(discovery.Config{
				Instance: instance,
				Port:     listener.Addr().(*net.TCPAddr).Port,
				Path:     cfg.RelayPath,
				Secure:   cfg.RelaySecure,
			})
			if err != nil {
				log.WithError(err).Warn("mDNS advertisement failed, relay is reachable by address only")
			} else {
				defer broadcaster.Stop()
				log.WithField("service", discovery.DefaultService).Info("advertising relay")
			}
		}

		hub := relay.NewHub(relay.Options{Logger: log})
		return relay.Serve(ctx, listener, hub, cfg.RelayPath)
	},
}

func init() {
	relayCmd.Flags().StringVar(&relayListen, "listen", ":8080", "address to listen on, overrides LANSHARE_RELAY_LISTEN")
	relayCmd.Flags().BoolVar(&relayAdvertise, "discovery", true, "advertise the relay over mDNS, overrides LANSHARE_DISCOVERY")
	relayCmd.Flags().StringVar(&relayInstance, "name", "", "mDNS instance name")
}
