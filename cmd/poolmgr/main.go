package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arpanet-terminal/relay/internal/config"
	"github.com/arpanet-terminal/relay/internal/pool"
	"github.com/arpanet-terminal/relay/internal/uplink"
)

var rootCmd = &cobra.Command{
	Use:   "poolmgr [router-url | launch-script]...",
	Short: "Session pool manager for simulator terminals",
	Long: `The pool manager runs the simulator subprocesses. It connects out to
one or more routers, creates a pooled session per browser, and relays
terminal traffic with baud-rate pacing.

Arguments starting with ws:// or wss:// are router uplink URLs; any
other argument is taken as the launch script path. Defaults come from
the config file and environment.

Examples:
  poolmgr
  poolmgr ./pdp10.sh
  poolmgr wss://relay.example.org:8081 ws://localhost:8081 ./do.sh`,
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	script := cfg.LaunchScript
	var urls []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "ws://") || strings.HasPrefix(arg, "wss://") {
			urls = append(urls, arg)
		} else {
			script = arg
		}
	}
	if len(urls) == 0 {
		urls = []string{fmt.Sprintf("ws://localhost:%d", cfg.UplinkPort)}
	}

	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("launch script %s: %w", script, err)
	}

	mgr := pool.NewManager(script)
	handler := &poolHandler{mgr: mgr}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Pool manager starting: %d slots, script %s, %d router(s)", pool.PoolSize, script, len(urls))

	var wg sync.WaitGroup
	for _, u := range urls {
		sup := uplink.NewSupervisor(u, handler)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Run(ctx)
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down pool manager...")
	mgr.Close()
	wg.Wait()
	return nil
}

// poolHandler adapts uplink frames onto the session pool. One handler is
// shared by every supervisor; sessions are keyed globally so a session id
// reaches the same pool no matter which router announced it.
type poolHandler struct {
	mgr *pool.Manager
}

func (h *poolHandler) NewSession(id string, conn *uplink.Conn) {
	if err := h.mgr.CreateSession(id, conn); err != nil {
		log.Printf("Session %s not created: %v", id, err)
	}
}

func (h *poolHandler) CloseSession(id string) {
	h.mgr.DestroySession(id)
}

func (h *poolHandler) Input(id, data string) {
	h.mgr.HandleInput(id, data)
}

func (h *poolHandler) Resize(id string, cols, rows uint16) {
	h.mgr.HandleResize(id, cols, rows)
}

func (h *poolHandler) SetBaudRate(id string, baud int) {
	h.mgr.HandleBaudRate(id, baud)
}

func (h *poolHandler) ConnectionLost(conn *uplink.Conn) {
	h.mgr.DestroyOwned(conn)
}

var _ uplink.Handler = (*poolHandler)(nil)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("poolmgr: %v", err)
	}
}
