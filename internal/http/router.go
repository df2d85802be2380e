package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docembed/internal/handlers"
	"docembed/internal/service"
	"docembed/internal/vectorstore"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	IngestService service.IngestService
	VectorStore   vectorstore.Store
	Collection    string // Default collection, checked by /api/health
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	// Add chi middleware
	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Add CORS middleware
	r.Use(CORS)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/ingest", handlers.NewIngestHandler(deps.IngestService))
		r.Method(http.MethodGet, "/progress", handlers.NewProgressHandler(deps.IngestService))
		r.Method(http.MethodGet, "/runs", handlers.NewRunsHandler(deps.IngestService))
		r.Method(http.MethodPost, "/search", handlers.NewSearchHandler(deps.IngestService))
		r.Method(http.MethodGet, "/health", handlers.NewHealthHandler(deps.VectorStore, deps.Collection))
	})

	return r
}
