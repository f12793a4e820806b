package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/marcusd/internal/classifier"
	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/events"
	"github.com/marcusd/internal/instance"
	"github.com/marcusd/internal/journal"
	"github.com/marcusd/internal/kanban"
	"github.com/marcusd/internal/mcp"
	"github.com/marcusd/internal/natsbridge"
	"github.com/marcusd/internal/notify"
	"github.com/marcusd/internal/persistence"
	"github.com/marcusd/internal/project"
	"github.com/marcusd/internal/resilience"
	"github.com/marcusd/internal/server"
	"github.com/marcusd/internal/types"
)

// Exit codes
const (
	exitOK            = 0
	exitFailure       = 1
	exitConfiguration = 2
	exitCorruption    = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/marcus.yaml", "Configuration file")
	flag.Parse()

	command := "start"
	if args := flag.Args(); len(args) > 0 {
		command = args[0]
	}

	cfg, err := types.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitConfiguration
	}

	pidPath := filepath.Join(cfg.DataDir, "marcusd.pid")
	mgr := instance.NewManager(pidPath, cfg.Port)

	switch command {
	case "start":
		return startServer(cfg, mgr)
	case "status":
		return showStatus(mgr)
	case "stop":
		return stopServer(mgr)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q (want start, stop, or status)\n", command)
		return exitConfiguration
	}
}

func startServer(cfg *types.Config, mgr *instance.Manager) int {
	// Refuse to double-start
	if existing, err := mgr.CheckExisting(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check for existing instance: %v\n", err)
		return exitFailure
	} else if existing != nil && existing.IsRunning {
		fmt.Fprintf(os.Stderr, "An instance is already running (PID %d, port %d)\n", existing.PID, existing.Port)
		return exitFailure
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		return exitFailure
	}

	// Persistence
	store, err := persistence.Open(cfg.Persistence, cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open persistence: %v\n", err)
		if errs.KindOf(err) == errs.KindStorage {
			return exitCorruption
		}
		return exitFailure
	}
	defer store.Close()
	fmt.Printf("  Persistence ready (%s backend)\n", cfg.Persistence.Backend)

	// Resilience policies for external collaborators
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.CircuitBreaker.RecoveryTimeoutSeconds) * time.Second,
	}
	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelaySeconds * float64(time.Second)),
		MaxDelay:    time.Duration(cfg.Retry.MaxDelaySeconds * float64(time.Second)),
		Jitter:      cfg.Retry.Jitter == nil || *cfg.Retry.Jitter,
	}

	// Classifier (optional)
	var scorer classifier.Classifier = classifier.Disabled{}
	if cfg.Classifier.Enabled && cfg.Classifier.URL != "" {
		scorer = classifier.NewHTTPClassifier(cfg.Classifier.URL, breakerCfg, retryCfg)
		fmt.Println("  Classifier enabled")
	}

	// Notifications
	notifier := notify.NewRouter(notify.BuildChannels(cfg.Notifications))

	// Embedded NATS broker + event bridge (optional)
	var natsServer *natsbridge.EmbeddedServer
	var natsClient *natsbridge.Client
	var busSubscribers []func(bus *events.Bus)

	if cfg.NATS.Enabled {
		natsServer = natsbridge.NewEmbeddedServer(natsbridge.EmbeddedServerConfig{Port: cfg.NATS.Port})
		if err := natsServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start NATS broker: %v\n", err)
			return exitFailure
		}
		defer natsServer.Stop()

		natsClient, err = natsbridge.NewClient(natsServer.URL())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect NATS client: %v\n", err)
			return exitFailure
		}
		defer natsClient.Close()

		bridge := natsbridge.NewBridge(natsClient)
		busSubscribers = append(busSubscribers, bridge.Attach)
		fmt.Printf("  Event bridge publishing on %s\n", natsServer.URL())
	}

	// Kanban sink (optional)
	provider, err := kanban.NewProvider(cfg.Kanban)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Kanban configuration error: %v\n", err)
		return exitConfiguration
	}
	if provider != nil {
		sink := kanban.NewSink(provider, breakerCfg, retryCfg)
		busSubscribers = append(busSubscribers, sink.Attach)
		fmt.Printf("  Kanban sink: %s\n", provider.Name())
	}

	// Websocket hub
	hub := server.NewHub()
	busSubscribers = append(busSubscribers, hub.Attach)

	// Error-spike signal routes to the notifier
	busSubscribers = append(busSubscribers, func(bus *events.Bus) {
		bus.SetSpikeHandler(func(eventType events.Type, failures int) {
			notifier.Notify(notify.Alert{
				Severity: notify.SeverityCritical,
				Title:    "Event handler error spike",
				Message:  fmt.Sprintf("%d failures for %s within the spike window", failures, eventType),
			})
		})
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Project context manager
	projects, err := project.NewManager(runCtx, project.Deps{
		Store:       store,
		Classifier:  scorer,
		Config:      cfg,
		Subscribers: busSubscribers,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create project manager: %v\n", err)
		return exitFailure
	}

	// Conversation log + journal + tool surface
	convlog, err := journal.OpenConvLog(filepath.Join(cfg.DataDir, "conversations.jsonl"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open conversation log: %v\n", err)
		return exitFailure
	}
	defer convlog.Close()

	dispatcher := mcp.NewDispatcher(projects, journal.New(store), convlog)
	dispatcher.SetNotifier(notifier)

	srv := server.NewServer(dispatcher, projects, hub)

	if !instance.IsPortAvailable(cfg.Port) {
		fmt.Fprintf(os.Stderr, "Port %d is already in use\n", cfg.Port)
		return exitFailure
	}

	printBanner()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	// Wait for bind via health polling
	ready := false
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		select {
		case err := <-serverErr:
			fmt.Fprintf(os.Stderr, "Server failed to start: %v\n", err)
			return exitFailure
		default:
		}
		if instance.HealthCheck(cfg.Port) == nil {
			ready = true
			break
		}
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "Server failed to become ready\n")
		return exitFailure
	}
	fmt.Printf("  Serving at http://localhost:%d ✓\n", cfg.Port)

	if err := mgr.WritePIDFile(os.Getpid(), cfg.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write PID file: %v\n", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, context.Canceled) && err.Error() != "http: Server closed" {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			return exitFailure
		}
	case <-shutdown:
		fmt.Println()
		fmt.Println("Shutting down (signal received)...")
	case <-srv.ShutdownChan:
		fmt.Println()
		fmt.Println("Shutting down (API request)...")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	fmt.Println("Saving project state...")
	projects.Close(shutdownCtx)

	mgr.RemovePIDFile()

	fmt.Println("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
	}

	fmt.Println("Goodbye!")
	return exitOK
}

func showStatus(mgr *instance.Manager) int {
	info, err := mgr.CheckExisting()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	if info == nil {
		fmt.Println("No marcusd instance is currently running")
		return exitOK
	}

	health := "OK (responding)"
	if !info.IsResponding {
		health = "DEGRADED (not responding)"
	}
	fmt.Println()
	fmt.Println("marcusd instance status")
	fmt.Printf("  PID:     %d\n", info.PID)
	fmt.Printf("  Port:    %d\n", info.Port)
	fmt.Printf("  Started: %s (%s ago)\n",
		info.StartTime.Format("2006-01-02 15:04:05"),
		time.Since(info.StartTime).Round(time.Second))
	fmt.Printf("  Health:  %s\n", health)
	fmt.Println()
	return exitOK
}

func stopServer(mgr *instance.Manager) int {
	info, err := mgr.CheckExisting()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	if info == nil {
		fmt.Println("No marcusd instance is currently running")
		return exitOK
	}

	fmt.Printf("Sending graceful shutdown to port %d...\n", info.Port)
	if err := instance.SendShutdownRequest(info.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown request failed: %v\n", err)
		return exitFailure
	}

	if instance.WaitForPortToBeAvailable(info.Port, 10*time.Second) {
		fmt.Println("Instance stopped ✓")
		return exitOK
	}
	fmt.Println("Warning: instance may still be running")
	return exitFailure
}

func printBanner() {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║          marcusd — coordination server    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
}
