// Package natsbridge runs an embedded NATS broker and forwards every core
// event onto its subjects so out-of-process consumers (analysis pipelines,
// dashboards) can tap the stream without touching the core.
package natsbridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig holds configuration for the embedded NATS server
type EmbeddedServerConfig struct {
	Port int
}

// EmbeddedServer wraps the NATS server
type EmbeddedServer struct {
	server  *server.Server
	config  EmbeddedServerConfig
	mu      sync.Mutex
	running bool
}

// NewEmbeddedServer creates an embedded NATS server instance
func NewEmbeddedServer(config EmbeddedServerConfig) *EmbeddedServer {
	if config.Port <= 0 {
		config.Port = 4222
	}
	return &EmbeddedServer{config: config}
}

// Start launches the broker and waits for it to accept connections
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return fmt.Errorf("NATS server did not become ready")
	}

	e.server = ns
	e.running = true
	return nil
}

// URL returns the client connection URL
func (e *EmbeddedServer) URL() string {
	return fmt.Sprintf("nats://127.0.0.1:%d", e.config.Port)
}

// Stop shuts the broker down
func (e *EmbeddedServer) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
		e.running = false
	}
}
