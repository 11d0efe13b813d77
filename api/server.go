/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Request logging through the handler's slog logger, so
                 access lines follow MEDPLAN_LOG_FORMAT
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the mobile/web clients
  6. Auth:       Bearer token on everything except registration, login,
                 health and the demo scenario routes

ROUTE GROUPS:
  /api/users            Registration (public)
  /api/login            Password login (public)
  /api/health           Liveness and storage ping (public)
  /api/scenarios/*      Demo scenarios (public, dev only)
  /api/me, /api/medications/*, /api/plans/*, /api/checkins/*,
  /api/care/*, /api/admin/*   Authenticated

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tune the router for an environment.
type RouterOptions struct {
	CORSOrigins []string
	// Scenarios mounts the demo data endpoints, which can wipe the database.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(h.Log.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/users", h.Register)
		r.Post("/login", h.Login)
		r.Get("/health", h.Health)

		if opts.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware)

			r.Get("/me", h.Me)

			r.Route("/medications", func(r chi.Router) {
				r.Get("/", h.ListMedications)
				r.Post("/", h.CreateMedication)
				r.Get("/{id}", h.GetMedication)
				r.Put("/{id}/rules", h.SetRules)
				r.Post("/{id}/deactivate", h.DeactivateMedication)
				r.Delete("/{id}", h.DeleteMedication)
			})

			r.Route("/plans", func(r chi.Router) {
				r.Get("/", h.ListPlans)
				r.Get("/today", h.TodayPlans)
				r.Get("/all", h.AllPlans)
				r.Post("/take", h.TakePlan)
			})

			r.Route("/checkins", func(r chi.Router) {
				r.Get("/", h.ListCheckins)
				r.Post("/", h.RecordCheckin)
				r.Post("/{id}/photos", h.AttachPhotos)
			})

			r.Route("/care", func(r chi.Router) {
				r.Get("/my_cares", h.MyCares)
				r.Get("/cares_me", h.CaresMe)
				r.Post("/add", h.AddCare)
				r.Post("/{id}/block", h.BlockCare)
				r.Get("/{id}/plans", h.SupervisedPlans)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Post("/materialize", h.TriggerMaterialization)
				r.Get("/materializations", h.ListMaterializations)
			})
		})
	})

	return r
}
