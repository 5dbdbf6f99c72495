// Package main implements the entry point for the imageworks API server,
// which accepts image work items, processes them asynchronously in a worker
// pool, and serves job status and results.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

// main is the entry point for the imageworks-api server.
// It initializes configuration, logging, the database, the queue and blob
// store clients, wires the services and worker pool together, and runs the
// HTTP server until interrupted.
func main() {
	app, err := newApplication()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	if err := app.Run(stop); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
