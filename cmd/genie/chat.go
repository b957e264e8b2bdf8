package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/basket/genie/internal/tui"
)

type deviceFlags struct {
	server   string
	clientID string
	secret   string
}

func (f *deviceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "genie server URL (default from bind_addr)")
	cmd.Flags().StringVar(&f.clientID, "client-id", os.Getenv("GENIE_CLIENT_ID"), "device client id ($GENIE_CLIENT_ID)")
	cmd.Flags().StringVar(&f.secret, "secret", os.Getenv("GENIE_SECRET"), "device secret ($GENIE_SECRET)")
}

func (f *deviceFlags) client() *tui.Client {
	server := f.server
	if server == "" {
		server = defaultServerURL()
	}
	return tui.NewClient(server, f.clientID, f.secret)
}

func chatCmd() *cobra.Command {
	var dev deviceFlags
	var plain bool
	var history int
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with Genie from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dev.clientID == "" || dev.secret == "" {
				return fmt.Errorf("--client-id and --secret are required (run `genie register` to create them)")
			}
			c := dev.client()
			if plain || !tui.Interactive() {
				return tui.RunPlain(cmd.Context(), c.Ask, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			return tui.Run(cmd.Context(), c, tui.Options{HistoryLimit: history})
		},
	}
	dev.bind(cmd)
	cmd.Flags().BoolVar(&plain, "plain", false, "line mode: one question per stdin line")
	cmd.Flags().IntVar(&history, "history", 0, "past turns to show on start (default: server history_limit)")
	return cmd
}

func registerCmd() *cobra.Command {
	var dev deviceFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Pair a device with the server, generating credentials when omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dev.clientID == "" {
				dev.clientID = uuid.NewString()
			}
			if dev.secret == "" {
				dev.secret = uuid.NewString()
			}
			if err := dev.client().Register(cmd.Context()); err != nil {
				return fmt.Errorf("register device: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "GENIE_CLIENT_ID=%s\nGENIE_SECRET=%s\n", dev.clientID, dev.secret)
			return nil
		},
	}
	dev.bind(cmd)
	return cmd
}
