/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the web client

ROUTE GROUPS:
  /health                         Liveness
  /api/users/{uid}/reminders/*    Reminder records, SSE stream, ICS feed
  /api/users/{uid}/occurrences    Expanded occurrences and triggers
  /api/users/{uid}/preferences    Timezone and quiet hours
  /api/users/{uid}/custom-events  User-created events
  /api/users/{uid}/inbox          In-app deliveries
  /api/policy, /api/identity      Stateless previews
  /api/permissions/copy           Permission outcome copy
  /api/dispatcher/*               Manual dispatch and run history
  /api/scenarios/*                Demo scenarios

SECURITY NOTE:
  No authentication middleware. The {uid} path segment is trusted; put the
  server behind an authenticating proxy that rewrites it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when the caller configures none.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: !containsWildcard(allowedOrigins),
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/users/{uid}", func(r chi.Router) {
			// Reminder routes
			r.Route("/reminders", func(r chi.Router) {
				r.Get("/", h.ListReminders)
				r.Put("/", h.SaveReminder)
				r.Get("/stream", h.StreamReminders)
				r.Get("/{key}", h.GetReminder)
				r.Delete("/{key}", h.DeleteReminder)
			})
			r.Get("/reminders.ics", h.ExportICS)
			r.Get("/occurrences", h.ListOccurrences)

			// Preference routes
			r.Get("/preferences", h.GetPreferences)
			r.Put("/preferences", h.PutPreferences)

			// Custom event routes
			r.Route("/custom-events", func(r chi.Router) {
				r.Get("/", h.ListCustomEvents)
				r.Post("/", h.SaveCustomEvent)
				r.Get("/{id}", h.GetCustomEvent)
				r.Delete("/{id}", h.DeleteCustomEvent)
			})

			// Inbox routes
			r.Get("/inbox", h.ListInbox)
			r.Delete("/inbox", h.ClearInbox)
		})

		r.Post("/policy/evaluate", h.EvaluatePolicy)
		r.Post("/identity/match", h.MatchIdentity)
		r.Get("/permissions/copy", h.PermissionCopy)

		// Dispatcher routes
		r.Route("/dispatcher", func(r chi.Router) {
			r.Post("/run", h.RunDispatcher)
			r.Get("/history", h.DispatcherHistory)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
