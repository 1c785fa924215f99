// Package bridge exposes the browser-facing WebSocket service to plain
// telnet clients, so vintage terminal programs can reach the simulators
// without speaking JSON.
package bridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arpanet-terminal/relay/internal/protocol"
)

const (
	readBufferSize = 4096
	writeWait      = 10 * time.Second
)

// Bridge accepts telnet TCP connections and pairs each with its own
// WebSocket to the router, so every telnet client gets its own session.
type Bridge struct {
	tcpPort int
	wsURL   string

	// dial is an injection point for tests.
	dial func(rawURL string) (*websocket.Conn, error)

	mu     sync.Mutex
	ln     net.Listener
	active int
	closed bool
}

// New creates a bridge that listens on tcpPort and dials wsURL once per
// accepted connection.
func New(tcpPort int, wsURL string) *Bridge {
	return &Bridge{
		tcpPort: tcpPort,
		wsURL:   wsURL,
		dial:    defaultDial,
	}
}

// Addr returns the listener address once ListenAndServe has bound it.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// Active returns the number of telnet clients currently bridged.
func (b *Bridge) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// ListenAndServe accepts telnet clients until the context is cancelled or
// the listener fails. The listener binds loopback only: the bridge speaks
// raw unauthenticated telnet, so remote clients go through the router.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", b.tcpPort))
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ln.Close()
		return nil
	}
	b.ln = ln
	b.mu.Unlock()

	log.Printf("Telnet bridge listening on port %d, forwarding to %s", b.tcpPort, b.wsURL)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || b.isClosed() {
				return nil
			}
			return fmt.Errorf("bridge accept: %w", err)
		}
		go b.handleConn(conn)
	}
}

// Close stops the listener. In-flight connections drain on their own.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.ln != nil {
		b.ln.Close()
	}
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// handleConn runs one telnet client to completion: dial the router, relay
// both directions, and tear everything down when either side finishes.
func (b *Bridge) handleConn(tcpConn net.Conn) {
	remote := tcpConn.RemoteAddr()

	b.mu.Lock()
	b.active++
	count := b.active
	b.mu.Unlock()
	log.Printf("Telnet client connected from %s (%d active)", remote, count)

	defer func() {
		tcpConn.Close()
		b.mu.Lock()
		b.active--
		count := b.active
		b.mu.Unlock()
		log.Printf("Telnet client disconnected: %s (%d active)", remote, count)
	}()

	ws, err := b.dial(b.wsURL)
	if err != nil {
		log.Printf("Failed to reach terminal service for %s: %v", remote, err)
		tcpConn.Write([]byte("Terminal service unavailable.\r\n"))
		return
	}
	defer ws.Close()

	done := make(chan struct{}, 2)
	go func() {
		b.relayTCPToWS(tcpConn, ws)
		done <- struct{}{}
	}()
	go func() {
		b.relayWSToTCP(ws, tcpConn)
		done <- struct{}{}
	}()

	// First side to finish kills both sockets, which unblocks the other.
	<-done
	tcpConn.Close()
	ws.Close()
	<-done
}

// relayTCPToWS reads telnet bytes, strips protocol commands and forwards
// the rest as input frames. Negotiation replies go straight back out on
// the TCP socket.
func (b *Bridge) relayTCPToWS(tcpConn net.Conn, ws *websocket.Conn) {
	var dec telnetDecoder

	buf := make([]byte, readBufferSize)
	for {
		n, err := tcpConn.Read(buf)
		if err != nil {
			return
		}

		app, replies := dec.Decode(buf[:n])
		if len(replies) > 0 {
			if _, err := tcpConn.Write(replies); err != nil {
				return
			}
		}
		if len(app) == 0 {
			continue
		}

		msg := &protocol.Message{
			Type: protocol.MessageTypeInput,
			Data: decodeLatin1(app),
		}
		data, err := msg.Marshal()
		if err != nil {
			log.Printf("Failed to encode input frame: %v", err)
			continue
		}

		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// relayWSToTCP forwards output frames to the telnet client, doubling 0xFF
// bytes so the stream stays telnet-clean. Exit frames end the connection.
func (b *Bridge) relayWSToTCP(ws *websocket.Conn, tcpConn net.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			log.Printf("Invalid JSON from terminal service: %.100s", data)
			continue
		}

		switch msg.Type {
		case protocol.MessageTypeOutput:
			if _, err := tcpConn.Write(escapeIAC(encodeLatin1(msg.Data))); err != nil {
				return
			}
		case protocol.MessageTypeError:
			log.Printf("Terminal service error: %s", msg.Data)
			tcpConn.Write([]byte("\r\n" + msg.Data + "\r\n"))
		case protocol.MessageTypeExit:
			log.Printf("Session ended: %s", msg.Data)
			return
		default:
			log.Printf("Unexpected frame type from terminal service: %s", msg.Type)
		}
	}
}

// defaultDial opens the WebSocket to the router. Self-signed certificates
// are accepted for wss targets; deployments front the router with their
// own certs.
func defaultDial(rawURL string) (*websocket.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if strings.EqualFold(u.Scheme, "wss") {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	ws, _, err := dialer.Dial(rawURL, nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}
