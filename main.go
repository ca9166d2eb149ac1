package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vrsandeep/feedsub-go/internal/api"
	"github.com/vrsandeep/feedsub-go/internal/core"
	"github.com/vrsandeep/feedsub-go/internal/jobs"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()

	// Install the fetch tool if it is missing, then keep it updated.
	installCtx, cancelInstall := context.WithTimeout(context.Background(), 10*time.Minute)
	if err := app.Tool().CheckInstall(installCtx); err != nil {
		log.Fatalf("Fetch tool is unavailable: %v", err)
	}
	cancelInstall()

	// Reload the trust list when the file changes on disk.
	if err := app.TrustList().Watch(); err != nil {
		log.Printf("Warning: could not watch trust list file: %v", err)
	}

	// Start the background job scheduler
	jobs.StartJobs(app)

	// Start the subscription polling loop
	if app.Config().Subscriptions.Enabled {
		app.Subs().Start()
	}

	// Setup the API server
	server := api.NewServer(app)
	addr := fmt.Sprintf(":%d", app.Config().Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}
	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		log.Printf("Starting web server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Create a context with a timeout to allow existing connections to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Attempt a graceful shutdown.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
