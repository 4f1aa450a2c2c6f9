/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the surplus pool engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load YAML config (flags override the file)
  3. Initialize SQLite store
  4. Create API handler with engines wired over the store
  5. Start settlement scheduler (when enabled)
  6. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file path (default: config.yaml; missing file = defaults)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config; ":memory:" supported)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the settlement scheduler (drains an in-flight pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Config file format
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coopfleet/surplus-engine/api"
	"github.com/coopfleet/surplus-engine/config"
	"github.com/coopfleet/surplus-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "config.yaml", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler; the sqlite store backs pools, ledger, and costs.
	handler := api.NewHandler(store, store, store, cfg)
	handler.Resetter = store

	// Settlement scheduler
	var scheduler *api.SettlementScheduler
	if cfg.Settlement.Enabled {
		scheduler, err = api.NewSettlementScheduler(handler.Settler, cfg.Settlement.Cron)
		if err != nil {
			log.Fatalf("Failed to configure settlement scheduler: %v", err)
		}
		scheduler.Start()
	}

	// Create router and server
	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Surplus engine listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
