// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vrsandeep/feedsub-go/internal/core"
	"github.com/vrsandeep/feedsub-go/internal/websocket"
)

// Server holds the dependencies for our API.
type Server struct {
	app *core.App
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{app: app}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/version", s.handleGetVersion)

	// Fetch progress stream
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(s.app.WsHub(), w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.TrustMiddleware)

		r.Route("/api", func(r chi.Router) {
			// Download Routes
			r.Get("/downloads", s.handleListDownloads)
			r.Post("/downloads", s.handleCreateDownload)
			r.Delete("/downloads", s.handleDeleteDownload)
			r.Get("/downloads/archive", s.handleDownloadArchive)

			// Subscription Routes
			r.Get("/subscriptions", s.handleListSubscriptions)
			r.Post("/subscriptions", s.handleCreateSubscription)
			r.Delete("/subscriptions", s.handleRemoveSubscription)
			r.Post("/subscriptions/pause", s.handlePauseSubscription)

			// Fetch Tool Routes
			r.Get("/tool", s.handleGetToolStatus)
			r.Post("/tool/update", s.handleUpdateTool)

			// Job Triggers and Metrics
			r.Get("/jobs/status", s.handleGetJobsStatus)
			r.Post("/jobs/run", s.handleRunJob)
			r.Get("/metrics", s.handleGetMetrics)
		})
	})

	return r
}
