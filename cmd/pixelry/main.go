// main.go - analytics collector server
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"pixelry/internal"
	"pixelry/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := internal.NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	go waitForShutdownSignal(app)

	if err := app.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// waitForShutdownSignal blocks for a termination signal and drains the app.
func waitForShutdownSignal(app *internal.Application) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)

	if err := app.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}
}
