package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arpanet-terminal/relay/internal/bridge"
	"github.com/arpanet-terminal/relay/internal/config"
)

var (
	tcpPort int
	wsURL   string
)

var rootCmd = &cobra.Command{
	Use:   "wsbridge",
	Short: "Telnet to WebSocket bridge for simulator terminals",
	Long: `The bridge lets plain telnet clients use the browser-facing terminal
service. Each accepted TCP connection gets its own WebSocket session;
telnet negotiation is refused politely and attention signals are mapped
to the control characters the simulated hosts expect.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().IntVar(&tcpPort, "port", 0, "telnet listen port (default 10018)")
	rootCmd.Flags().StringVar(&wsURL, "url", "", "terminal service WebSocket URL (default ws://localhost:8080)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if tcpPort != 0 {
		cfg.BridgePort = tcpPort
	}
	if wsURL != "" {
		cfg.BridgeWSURL = wsURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bridge.New(cfg.BridgePort, cfg.BridgeWSURL)
	return b.ListenAndServe(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("wsbridge: %v", err)
	}
}
