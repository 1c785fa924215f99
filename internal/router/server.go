package router

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from file:// pages and arbitrary mirrors; the
	// protocol carries no credentials.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServerConfig configures the two listen ports of a router process.
type ServerConfig struct {
	BrowserPort int
	UplinkPort  int

	// CertFile and KeyFile enable TLS on both listeners when set.
	CertFile string
	KeyFile  string
}

// TLS reports whether the server terminates TLS (wss).
func (c ServerConfig) TLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Server exposes a Router on two WebSocket listen ports: one for browsers,
// one for the pool manager.
type Server struct {
	router *Router
	cfg    ServerConfig
}

// NewServer wraps the router with its HTTP surface.
func NewServer(r *Router, cfg ServerConfig) *Server {
	return &Server{router: r, cfg: cfg}
}

// Run starts both listeners and blocks until either fails.
func (s *Server) Run() error {
	scheme := "ws"
	if s.cfg.TLS() {
		scheme = "wss"
	}

	browserEngine := gin.New()
	browserEngine.Use(gin.Recovery())
	browserEngine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": s.router.SessionCount(),
			"uplink":   s.router.HasUplink(),
		})
	})
	browserEngine.GET("/", s.handleBrowser)

	uplinkEngine := gin.New()
	uplinkEngine.Use(gin.Recovery())
	uplinkEngine.GET("/", s.handleUplink)

	log.Printf("Browser server listening on %s://0.0.0.0:%d", scheme, s.cfg.BrowserPort)
	log.Printf("Pool manager listening on %s://0.0.0.0:%d", scheme, s.cfg.UplinkPort)

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.serve(browserEngine, s.cfg.BrowserPort)
	}()
	go func() {
		errCh <- s.serve(uplinkEngine, s.cfg.UplinkPort)
	}()
	return <-errCh
}

func (s *Server) serve(engine *gin.Engine, port int) error {
	addr := fmt.Sprintf(":%d", port)
	if s.cfg.TLS() {
		return engine.RunTLS(addr, s.cfg.CertFile, s.cfg.KeyFile)
	}
	return engine.Run(addr)
}

// handleBrowser upgrades a browser socket and hands it to the router.
func (s *Server) handleBrowser(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Browser upgrade failed: %v", err)
		return
	}
	s.router.AcceptDownstream(conn)
}

// handleUplink upgrades the pool manager socket.
func (s *Server) handleUplink(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Pool manager upgrade failed: %v", err)
		return
	}
	s.router.AcceptUplink(conn)
}
