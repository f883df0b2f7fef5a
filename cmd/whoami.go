package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "print this device's identity",
	Long:  `print the client id and display name announced to the relay, creating them on first use`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		store, dbPath, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("database close error")
			}
		}()

		ids := loadIdentity(store, log)
		self := ids.Load()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Client ID:       %s\n", self.ID)
		fmt.Fprintf(out, "Display Name:    %s\n", self.DisplayName)
		fmt.Fprintf(out, "Data Directory:  %s\n", cfg.DataDir)
		fmt.Fprintf(out, "Database File:   %s\n", dbPath)
		if ids.Ephemeral() {
			fmt.Fprintln(out, "Identity:        ephemeral (storage unavailable)")
		}
		return nil
	},
}
