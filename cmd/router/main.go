package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arpanet-terminal/relay/internal/config"
	"github.com/arpanet-terminal/relay/internal/router"
)

var (
	browserPort int
	uplinkPort  int
	certFile    string
	keyFile     string
)

var rootCmd = &cobra.Command{
	Use:   "router",
	Short: "WebSocket session router for simulator terminals",
	Long: `The router accepts browser terminal connections on one port and the
session pool manager on another, relaying frames between them. Each
browser gets a session id the pool manager uses to address its frames;
browsers themselves never see session ids.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().IntVar(&browserPort, "browser-port", 0, "browser listen port (default 8080)")
	rootCmd.Flags().IntVar(&uplinkPort, "uplink-port", 0, "pool manager listen port (default 8081)")
	rootCmd.Flags().StringVar(&certFile, "cert", "", "TLS certificate file (enables wss with --key)")
	rootCmd.Flags().StringVar(&keyFile, "key", "", "TLS key file (enables wss with --cert)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if browserPort != 0 {
		cfg.BrowserPort = browserPort
	}
	if uplinkPort != 0 {
		cfg.UplinkPort = uplinkPort
	}
	if certFile != "" {
		cfg.CertFile = certFile
	}
	if keyFile != "" {
		cfg.KeyFile = keyFile
	}

	r := router.New()
	srv := router.NewServer(r, router.ServerConfig{
		BrowserPort: cfg.BrowserPort,
		UplinkPort:  cfg.UplinkPort,
		CertFile:    cfg.CertFile,
		KeyFile:     cfg.KeyFile,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down router...")
		r.Close()
		os.Exit(0)
	}()

	return srv.Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("router: %v", err)
	}
}
