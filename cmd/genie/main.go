package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/basket/genie/internal/config"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	loadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var home string
	root := &cobra.Command{
		Use:           "genie",
		Short:         "Genie planning assistant server and client",
		Version:       Version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if home != "" {
				_ = os.Setenv("GENIE_HOME", home)
			}
		},
	}
	root.PersistentFlags().StringVar(&home, "home", "", "data directory (default $GENIE_HOME or ~/.genie)")
	root.AddCommand(serveCmd(), migrateCmd(), chatCmd(), registerCmd(), statusCmd(), doctorCmd())
	return root
}

// startupFailure logs a structured fatal event and returns err tagged with
// its reason code.
func startupFailure(logger *slog.Logger, reasonCode string, err error) error {
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", err)
	}
	return fmt.Errorf("%s: %w", reasonCode, err)
}

// serverURL turns a bind address into the URL a local client should dial.
func serverURL(bindAddr string) string {
	addr := strings.TrimSpace(bindAddr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, port)
	}
	return "http://" + addr
}

func defaultServerURL() string {
	cfg, err := config.Load()
	if err != nil {
		return "http://127.0.0.1:8000"
	}
	return serverURL(cfg.BindAddr)
}

// loadDotEnv sets KEY=VALUE pairs from path without overriding the
// environment. A missing file is ignored.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || os.Getenv(key) != "" {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		_ = os.Setenv(key, val)
	}
}
